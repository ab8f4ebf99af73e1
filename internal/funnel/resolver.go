// Package funnel implements the funnel conversation engine: option
// resolution, phase classification, escalation, link resolution, and the
// conversation state machine that ties them together.
package funnel

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/MichaelRobotics/Hustler-sub011/internal/models"
)

var numericInputPattern = regexp.MustCompile(`^\d+$`)

// ResolveOption decides which of the block's options the input selects.
// Matching precedence, first match wins, case-insensitive, both sides trimmed:
//  1. exact text equality
//  2. substring containment in either direction, in declared option order
//  3. numeric selection: a digits-only input is a 1-based index into the
//     option list
//
// Numeric matching is only attempted when no textual tier matched. Returns
// nil when nothing matches; that is the escalation path, not an error.
func ResolveOption(inputText string, block models.Block) *models.Option {
	input := strings.ToLower(strings.TrimSpace(inputText))
	if input == "" || len(block.Options) == 0 {
		return nil
	}

	for i, opt := range block.Options {
		if strings.ToLower(strings.TrimSpace(opt.Text)) == input {
			slog.Debug("ResolveOption exact match", "blockID", block.ID, "option", i+1)
			return &block.Options[i]
		}
	}

	for i, opt := range block.Options {
		optText := strings.ToLower(strings.TrimSpace(opt.Text))
		if strings.Contains(optText, input) || strings.Contains(input, optText) {
			slog.Debug("ResolveOption substring match", "blockID", block.ID, "option", i+1)
			return &block.Options[i]
		}
	}

	if numericInputPattern.MatchString(input) {
		n, err := strconv.Atoi(input)
		if err == nil && n >= 1 && n <= len(block.Options) {
			slog.Debug("ResolveOption numeric match", "blockID", block.ID, "option", n)
			return &block.Options[n-1]
		}
	}

	slog.Debug("ResolveOption no match", "blockID", block.ID, "input_length", len(inputText))
	return nil
}
