package moderation

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Projection selects the output shape of a footprint.
type Projection int

const (
	ProjectionTable Projection = iota + 1
	ProjectionStructured
	ProjectionChat
	ProjectionCompact
)

const (
	// ChatMessageLimit is the largest chat message, in characters.
	ChatMessageLimit = 2000
	// CompactChunkLines is the number of hit lines per compact message.
	CompactChunkLines = 20

	chatSeparator        = "\n-----\n"
	defaultCommunityName = "your"
	cleanMessage         = "Looks like the server is squeaky clean and free from cringe users, good job!"
)

var tableHeader = []string{"Discord ID", "Username", "Guild ID", "Reason", "Related image(s)", "Extra details"}

var projectionNames = map[Projection]string{
	ProjectionTable:      "table",
	ProjectionStructured: "structured",
	ProjectionChat:       "chat",
	ProjectionCompact:    "compact",
}

func (p Projection) String() string {
	if name, ok := projectionNames[p]; ok {
		return name
	}
	return fmt.Sprintf("projection(%d)", int(p))
}

// ParseProjection accepts a projection name or its file-format alias (csv, json).
func ParseProjection(name string) (Projection, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "table", "csv":
		return ProjectionTable, nil
	case "structured", "json":
		return ProjectionStructured, nil
	case "chat":
		return ProjectionChat, nil
	case "compact":
		return ProjectionCompact, nil
	default:
		return 0, invalid("unknown projection %q", name)
	}
}

// Attachment is a file to send alongside the messages.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Caption     string `json:"caption,omitempty"`
	Content     []byte `json:"content"`
}

// Rendering is what a front end posts back for a footprint.
type Rendering struct {
	Messages    []string     `json:"messages"`
	Attachments []Attachment `json:"attachments"`
}

// Render formats hits in the requested projection. communityName only names attachments.
func Render(hits []Hit, projection Projection, communityName string) (Rendering, error) {
	if _, ok := projectionNames[projection]; !ok {
		return Rendering{}, invalid("unknown projection %s", projection)
	}
	rendering := Rendering{Messages: []string{}, Attachments: []Attachment{}}
	if len(hits) == 0 {
		rendering.Messages = append(rendering.Messages, cleanMessage)
		return rendering, nil
	}
	if strings.TrimSpace(communityName) == "" {
		communityName = defaultCommunityName
	}
	identities := hitIdentities(hits)

	switch projection {
	case ProjectionTable:
		content, err := renderTable(hits)
		if err != nil {
			return Rendering{}, err
		}
		rendering.Messages = append(rendering.Messages, fmt.Sprintf(
			"Your server has %d bad actor(s).\nA .csv file is attached with all of the results, it opens in any text editor but is best suited for a spreadsheet.", identities))
		rendering.Attachments = append(rendering.Attachments, Attachment{
			Filename:    communityName + "_footprint_results.csv",
			ContentType: "text/csv",
			Content:     content,
		})
	case ProjectionStructured:
		content, err := json.MarshalIndent(hits, "", "  ")
		if err != nil {
			return Rendering{}, err
		}
		rendering.Messages = append(rendering.Messages, fmt.Sprintf(
			"Your server has %d bad actor(s).\nA .json file is attached with all of the results.", identities))
		rendering.Attachments = append(rendering.Attachments, Attachment{
			Filename:    communityName + "_footprint_results.json",
			ContentType: "application/json",
			Content:     content,
		})
	case ProjectionChat:
		messages, attachments := renderChat(hits)
		rendering.Messages = append(rendering.Messages, messages...)
		rendering.Attachments = append(rendering.Attachments, attachments...)
		rendering.Messages = append(rendering.Messages, foundSummary(identities))
	case ProjectionCompact:
		rendering.Messages = append(rendering.Messages, renderCompact(hits)...)
		rendering.Messages = append(rendering.Messages, foundSummary(identities))
	}
	return rendering, nil
}

func foundSummary(identities int) string {
	return fmt.Sprintf("Found %d user(s) from the database!\nYou can easily ban them by right clicking on their @", identities)
}

// Cells are wrapped in single quotes so spreadsheets keep long ids as text.
func renderTable(hits []Hit) ([]byte, error) {
	var buffer bytes.Buffer
	writer := csv.NewWriter(&buffer)
	if err := writer.Write(tableHeader); err != nil {
		return nil, err
	}
	for _, hit := range hits {
		row := []string{
			hit.UserID,
			hit.DisplayName.String(),
			hit.CommunityID,
			hit.Reason,
			hit.EvidenceLink.String(),
			hit.Notes.String(),
		}
		for index, cell := range row {
			row[index] = "'" + cell + "'"
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func chatLine(hit Hit) string {
	return fmt.Sprintf("<@%s>/%s was found in your server for the following reason: `%s`\nExtras: %s\nImages: %s",
		hit.UserID, hit.UserID, hit.Reason, hit.Notes, hit.EvidenceLink)
}

// renderChat packs whole hits into messages of at most ChatMessageLimit characters. A hit
// that alone exceeds the limit is sent as a text attachment instead.
func renderChat(hits []Hit) ([]string, []Attachment) {
	messages := []string{}
	attachments := []Attachment{}
	separatorLength := utf8.RuneCountInString(chatSeparator)

	var current []string
	currentLength := 0
	flush := func() {
		if len(current) == 0 {
			return
		}
		messages = append(messages, strings.Join(current, chatSeparator))
		current = nil
		currentLength = 0
	}

	for _, hit := range hits {
		line := chatLine(hit)
		length := utf8.RuneCountInString(line)
		if length > ChatMessageLimit {
			attachments = append(attachments, Attachment{
				Filename:    fmt.Sprintf("%s-%s_extra_large_offence.txt", hit.UserID, hit.CommunityID),
				ContentType: "text/plain",
				Caption:     fmt.Sprintf("<@%s>/%s was found in your server for the following reason:", hit.UserID, hit.UserID),
				Content:     []byte(line),
			})
			continue
		}
		added := length
		if len(current) > 0 {
			added += separatorLength
		}
		if currentLength+added > ChatMessageLimit {
			flush()
			added = length
		}
		current = append(current, line)
		currentLength += added
	}
	flush()
	return messages, attachments
}

func renderCompact(hits []Hit) []string {
	unique := make(map[string]struct{}, len(hits))
	for _, hit := range hits {
		unique[fmt.Sprintf("Found: <@%s>/%s", hit.UserID, hit.UserID)] = struct{}{}
	}
	lines := make([]string, 0, len(unique))
	for line := range unique {
		lines = append(lines, line)
	}
	sort.Strings(lines)

	messages := make([]string, 0, len(lines)/CompactChunkLines+1)
	for start := 0; start < len(lines); start += CompactChunkLines {
		end := min(start+CompactChunkLines, len(lines))
		messages = append(messages, strings.Join(lines[start:end], "\n"))
	}
	return messages
}
