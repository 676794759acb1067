package session

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Artifact is a fenced code block found in message content
type Artifact struct {
	ID       string `json:"id"`
	Language string `json:"language"`
	Content  string `json:"content"`
}

var codeFence = regexp.MustCompile("(?s)```(\\w+)?\\n(.*?)```")

// ExtractArtifacts returns the fenced code blocks of content in order of appearance
func ExtractArtifacts(content string) []Artifact {
	var artifacts []Artifact
	for _, m := range codeFence.FindAllStringSubmatch(content, -1) {
		lang := m[1]
		if lang == "" {
			lang = "text"
		}
		artifacts = append(artifacts, Artifact{
			ID:       NewMessageID(),
			Language: lang,
			Content:  strings.TrimSpace(m[2]),
		})
	}
	return artifacts
}

// RelativeTime renders an epoch millis timestamp relative to now
func RelativeTime(ts int64, now time.Time) string {
	t := time.UnixMilli(ts)
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff/time.Minute))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff/time.Hour))
	}
	return t.Local().Format("2006-01-02")
}
