package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/smartclass/backend/internal/apperr"
	"github.com/smartclass/backend/internal/chatbot"
	"github.com/smartclass/backend/pkg/config"
)

func runAsk(ctx context.Context, cfg *config.Config, classID, userID string, args []string) error {
	d, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	question := strings.Join(args, " ")

	resp, err := d.engine.Ask(ctx, chatbot.AskRequest{
		Question: question,
		ClassID:  classID,
		UserID:   userID,
	})
	if err != nil {
		color.Red("%s: %s", apperr.KindOf(err), apperr.DetailOf(err))
		return err
	}

	color.Cyan("Q: %s", question)
	fmt.Println()
	fmt.Println(resp.Answer)
	fmt.Println()

	if len(resp.Documents) == 0 {
		color.Yellow("No class materials matched this question.")
	} else {
		color.Green("Sources:")
		for _, doc := range resp.Documents {
			fmt.Printf("  - %s\n", doc)
		}
	}
	return nil
}
