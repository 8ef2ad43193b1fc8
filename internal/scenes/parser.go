// Package scenes extracts structured scene records from loosely formatted
// model output. Parsing never fails: malformed blocks are skipped or replaced
// with placeholder scenes.
package scenes

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Lllllllleong/accessiblelessons/internal/models"
)

// MaxScenes caps how many scenes are returned, however many the model produced.
const MaxScenes = 4

// DefaultImagePrompt is used when a block has no usable image prompt.
const DefaultImagePrompt = "A comic panel explaining the concept"

const (
	titleMarker       = "**Title:**"
	imagePromptMarker = "**Image_prompt:**"
)

var (
	blockDelimiter = regexp.MustCompile(`\d+\.`)

	// Each field runs from its label to the next later label, or the end of the block.
	titlePattern       = regexp.MustCompile(`(?is)\*\*Title:\*\*(.*?)(?:\*\*Description:\*\*|\*\*Key Idea:\*\*|\*\*Image_prompt:\*\*|$)`)
	descriptionPattern = regexp.MustCompile(`(?is)\*\*Description:\*\*(.*?)(?:\*\*Key Idea:\*\*|\*\*Image_prompt:\*\*|$)`)
	keyIdeaPattern     = regexp.MustCompile(`(?is)\*\*Key Idea:\*\*(.*?)(?:\*\*Image_prompt:\*\*|$)`)
	imagePromptPattern = regexp.MustCompile(`(?is)\*\*Image_prompt:\*\*(.*)$`)
)

// Parse splits raw on numbered-list markers and returns at most MaxScenes
// scenes, numbered from 1 in their original order.
func Parse(raw string) []models.Scene {
	blocks := candidateBlocks(raw)
	out := make([]models.Scene, 0, len(blocks))
	for i, block := range blocks {
		n := i + 1
		scene := parseBlock(block, n)
		scene.SceneNumber = n
		out = append(out, scene)
	}
	return out
}

// candidateBlocks returns the blocks that carry both a title and an image
// prompt marker. Preamble and trailing commentary are dropped here.
func candidateBlocks(raw string) []string {
	var blocks []string
	for _, part := range blockDelimiter.Split(raw, -1) {
		block := strings.TrimSpace(part)
		if block == "" {
			continue
		}
		lower := strings.ToLower(block)
		if !strings.Contains(lower, strings.ToLower(titleMarker)) || !strings.Contains(lower, strings.ToLower(imagePromptMarker)) {
			continue
		}
		blocks = append(blocks, block)
		if len(blocks) == MaxScenes {
			break
		}
	}
	return blocks
}

func parseBlock(block string, n int) (scene models.Scene) {
	defer func() {
		if r := recover(); r != nil {
			scene = Placeholder(n)
		}
	}()

	scene = models.Scene{
		Title:       capture(titlePattern, block),
		Description: capture(descriptionPattern, block),
		KeyIdea:     capture(keyIdeaPattern, block),
		ImagePrompt: capture(imagePromptPattern, block),
	}
	if scene.Title == "" {
		scene.Title = fallbackTitle(n)
	}
	if scene.ImagePrompt == "" {
		scene.ImagePrompt = DefaultImagePrompt
	}
	return scene
}

// Placeholder is the generic scene used when a block cannot be parsed.
func Placeholder(n int) models.Scene {
	return models.Scene{
		Title:       fallbackTitle(n),
		ImagePrompt: DefaultImagePrompt,
		SceneNumber: n,
	}
}

func capture(re *regexp.Regexp, block string) string {
	m := re.FindStringSubmatch(block)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func fallbackTitle(n int) string {
	return fmt.Sprintf("Scene %d", n)
}
