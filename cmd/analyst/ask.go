package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bryanwahyu/analyst-agent/internal/application/intake"
)

var questionsPath string

var askCmd = &cobra.Command{
	Use:   "ask -q questions.txt [files...]",
	Short: "Answer one question locally and print the answer JSON",
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&questionsPath, "questions", "q", "questions.txt", "file holding the question")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	sub, err := readSubmission(questionsPath, args)
	if err != nil {
		return err
	}

	a, err := buildApp(cmd.Context(), cfg, log, false)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.checkSandbox(cmd.Context()); err != nil {
		return err
	}

	ans := a.svc.Ask(cmd.Context(), sub)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(ans); err != nil {
		return err
	}
	if !ans.OK() {
		return fmt.Errorf("%s: %s", ans.Reason, ans.Detail)
	}
	return nil
}

func readSubmission(questions string, files []string) (intake.Submission, error) {
	q, err := os.ReadFile(questions)
	if err != nil {
		return intake.Submission{}, fmt.Errorf("read question: %w", err)
	}
	sub := intake.Submission{Question: string(q)}
	for _, path := range files {
		b, err := os.ReadFile(path)
		if err != nil {
			return intake.Submission{}, fmt.Errorf("read attachment: %w", err)
		}
		sub.Files = append(sub.Files, intake.File{Field: "file", Name: filepath.Base(path), Content: b})
	}
	return sub, nil
}
