package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/BTreeMap/BookingPipe/internal/assistant"
	"github.com/BTreeMap/BookingPipe/internal/dialogue"
)

// exampleScript is the demo conversation: a booking, then a reschedule.
var exampleScript = []string{
	"Book a virtual appointment tomorrow at 3pm.",
	"Change my appointment from 5pm to 6pm.",
}

// exampleFollowUps answer a step that did not finish in one message.
var exampleFollowUps = []string{
	"Tomorrow 3pm virtual.",
	"Move it to 18:00 on the same day.",
}

// chatIDs returns the user and session ids of a terminal conversation.
func chatIDs(flags Flags) (string, string) {
	userID := *flags.userID
	if userID == "" {
		userID = uuid.NewString()
	}
	sessionID := *flags.sessionID
	if sessionID == "" {
		sessionID = "cli:" + userID
	}
	return userID, sessionID
}

// converse sends one message and prints the assistant's answers.
func converse(ctx context.Context, asst *assistant.Service, out io.Writer, sessionID, userID, text string) (*assistant.Reply, error) {
	reply, err := asst.HandleMessage(ctx, sessionID, userID, text)
	if reply != nil {
		for _, msg := range reply.Messages {
			fmt.Fprintln(out, "Assistant:", msg)
		}
	}
	if errors.Is(err, dialogue.ErrStore) {
		return reply, nil
	}
	return reply, err
}

func runMessage(ctx context.Context, flags Flags, out io.Writer) error {
	a, err := buildApp(ctx, flags, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	userID, sessionID := chatIDs(flags)
	_, err = converse(ctx, a.assistant, out, sessionID, userID, *flags.message)
	return err
}

func runExample(ctx context.Context, flags Flags, out io.Writer) error {
	a, err := buildApp(ctx, flags, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	userID, sessionID := chatIDs(flags)
	return playScript(ctx, a.assistant, out, sessionID, userID)
}

// playScript runs exampleScript, sending the follow-up when a step is left unfinished.
func playScript(ctx context.Context, asst *assistant.Service, out io.Writer, sessionID, userID string) error {
	for i, text := range exampleScript {
		fmt.Fprintln(out, "You:", text)
		reply, err := converse(ctx, asst, out, sessionID, userID, text)
		if err != nil {
			return err
		}
		if reply.State.Done {
			continue
		}
		fmt.Fprintln(out, "You:", exampleFollowUps[i])
		if _, err := converse(ctx, asst, out, sessionID, userID, exampleFollowUps[i]); err != nil {
			return err
		}
	}
	return nil
}

func runChat(ctx context.Context, flags Flags, in io.Reader, out io.Writer) error {
	a, err := buildApp(ctx, flags, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	userID, sessionID := chatIDs(flags)
	return chatLoop(ctx, a.assistant, in, out, sessionID, userID)
}

// chatLoop reads lines until EOF, "exit" or "quit". "/reset" forgets the
// conversation and "/appointments" lists the user's bookings.
func chatLoop(ctx context.Context, asst *assistant.Service, in io.Reader, out io.Writer, sessionID, userID string) error {
	fmt.Fprintln(out, "Appointment Assistant. Type 'exit' to quit.")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "You: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		text := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(text) {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "/reset":
			if err := asst.Reset(ctx, sessionID); err != nil {
				return err
			}
			fmt.Fprintln(out, "Conversation reset.")
			continue
		case "/appointments":
			list, err := asst.Appointments(ctx, userID)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(out, "No appointments.")
			}
			for _, appt := range list {
				fmt.Fprintf(out, "- %s %s %s (%s)\n", appt.Day, appt.Date, appt.Time, appt.Mode)
			}
			continue
		}
		if _, err := converse(ctx, asst, out, sessionID, userID, text); err != nil {
			return err
		}
	}
}
