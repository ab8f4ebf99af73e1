// Package models defines funnel graph type definitions to avoid circular imports.
package models

import "errors"

// StageName names a stage's role inside a funnel. The vocabulary is closed but
// extensible: graphs may carry stage names outside this list, which the phase
// classifier folds into PhaseCompleted.
type StageName string

// Known stage name constants.
const (
	StageWelcome                 StageName = "WELCOME"
	StageValueDelivery           StageName = "VALUE_DELIVERY"
	StagePainPointQualification  StageName = "PAIN_POINT_QUALIFICATION"
	StageOffer                   StageName = "OFFER"
	StageTransition              StageName = "TRANSITION"
	StageExperienceQualification StageName = "EXPERIENCE_QUALIFICATION"
)

// Phase is the coarse conversation progress bucket derived from the current
// block's stage.
type Phase string

const (
	// PhaseOne covers the WELCOME stage.
	PhaseOne Phase = "PHASE1"
	// PhaseTwo covers the VALUE_DELIVERY stage.
	PhaseTwo Phase = "PHASE2"
	// PhaseTransitionStage is reserved for graphs with an explicitly named
	// transition stage.
	PhaseTransitionStage Phase = "TRANSITION"
	// PhaseCompleted is the overflow bucket for every other stage and for
	// block ids no stage claims.
	PhaseCompleted Phase = "COMPLETED"
)

// Validation constants for funnel graphs.
const (
	// MaxBlockMessageLength defines the maximum allowed length for a block message template
	MaxBlockMessageLength = 4096
	// MaxOptionTextLength defines the maximum allowed length for option text
	MaxOptionTextLength = 200
)

// Error variables for funnel graph validation.
var (
	ErrEmptyFunnelID        = errors.New("funnel id cannot be empty")
	ErrNoBlocks             = errors.New("funnel has no blocks")
	ErrEmptyStartBlock      = errors.New("funnel start block not set")
	ErrUnknownStartBlock    = errors.New("funnel start block not present in blocks")
	ErrEmptyBlockMessage    = errors.New("block message cannot be empty")
	ErrBlockMessageTooLong  = errors.New("block message exceeds maximum length")
	ErrEmptyOptionText      = errors.New("option text cannot be empty")
	ErrOptionTextTooLong    = errors.New("option text exceeds maximum length")
	ErrDanglingOptionTarget = errors.New("option references a block that does not exist")
	ErrUnknownStageBlock    = errors.New("stage references a block that does not exist")
)

// Option is a user-selectable branch out of a block.
// An empty NextBlockID marks a terminal leaf: selecting it ends the path.
type Option struct {
	Text        string `json:"text"`
	NextBlockID string `json:"next_block_id,omitempty"`
}

// IsTerminal reports whether selecting this option ends the conversation path.
func (o Option) IsTerminal() bool {
	return o.NextBlockID == ""
}

// Block is a single funnel node: a message template plus zero or more options.
type Block struct {
	ID           string   `json:"id"`
	Message      string   `json:"message"`
	Options      []Option `json:"options,omitempty"`
	ResourceName string   `json:"resource_name,omitempty"`
}

// Stage is a named grouping of blocks used for phase classification and
// role-based behavior. BlockIDs is ordered; the first entry is the stage's
// entry block for explicit transitions.
type Stage struct {
	Name     StageName `json:"name"`
	BlockIDs []string  `json:"block_ids"`
}

// FunnelGraph is the immutable, versioned definition of a scripted funnel.
type FunnelGraph struct {
	ID           string           `json:"id"`
	ExperienceID string           `json:"experience_id"`
	Version      int              `json:"version"`
	StartBlockID string           `json:"start_block_id"`
	Stages       []Stage          `json:"stages"`
	Blocks       map[string]Block `json:"blocks"`
}

// Validate performs structural validation on a funnel graph.
// Every option target must exist in Blocks (terminal options excepted), the
// start block must exist, and stages may only reference known blocks.
func (g *FunnelGraph) Validate() error {
	if g.ID == "" {
		return ErrEmptyFunnelID
	}
	if len(g.Blocks) == 0 {
		return ErrNoBlocks
	}
	if g.StartBlockID == "" {
		return ErrEmptyStartBlock
	}
	if _, ok := g.Blocks[g.StartBlockID]; !ok {
		return ErrUnknownStartBlock
	}
	for _, block := range g.Blocks {
		if block.Message == "" {
			return ErrEmptyBlockMessage
		}
		if len(block.Message) > MaxBlockMessageLength {
			return ErrBlockMessageTooLong
		}
		for _, opt := range block.Options {
			if opt.Text == "" {
				return ErrEmptyOptionText
			}
			if len(opt.Text) > MaxOptionTextLength {
				return ErrOptionTextTooLong
			}
			if opt.IsTerminal() {
				continue
			}
			if _, ok := g.Blocks[opt.NextBlockID]; !ok {
				return ErrDanglingOptionTarget
			}
		}
	}
	for _, stage := range g.Stages {
		for _, id := range stage.BlockIDs {
			if _, ok := g.Blocks[id]; !ok {
				return ErrUnknownStageBlock
			}
		}
	}
	return nil
}

// StageOf returns the stage owning the given block id, or false if no stage
// claims it.
func (g *FunnelGraph) StageOf(blockID string) (Stage, bool) {
	for _, stage := range g.Stages {
		for _, id := range stage.BlockIDs {
			if id == blockID {
				return stage, true
			}
		}
	}
	return Stage{}, false
}

// FindStage returns the stage with the given name, or false if absent.
func (g *FunnelGraph) FindStage(name StageName) (Stage, bool) {
	for _, stage := range g.Stages {
		if stage.Name == name {
			return stage, true
		}
	}
	return Stage{}, false
}

// PhaseTransition marks a crossing between two phases during one advance.
type PhaseTransition struct {
	From Phase `json:"from"`
	To   Phase `json:"to"`
}
