// Package citation correlates the [N] markers of a response with its sources.
package citation

import (
	"fmt"
	"regexp"
	"strconv"

	"palchat/internal/models"
)

var (
	markerRun = regexp.MustCompile(`(?:\[\d{1,9}\])+`)
	marker    = regexp.MustCompile(`\[(\d{1,9})\]`)
)

type SegmentKind int

const (
	SegmentPlain SegmentKind = iota
	SegmentGroup
)

// Segment is either a run of plain text or a marker group.
type Segment struct {
	Kind  SegmentKind
	Text  string
	Group *Group
}

// Group is a run of adjacent markers rendered as one bubble.
type Group struct {
	ID string
	// CitationIDs keeps marker order, duplicates included.
	CitationIDs []int
	// Citations holds the entries that exist for CitationIDs, in marker order.
	Citations []models.Citation
	// Supports is the plain text immediately before the group.
	Supports string
	Raw      string
}

// Label is the bubble text: the number of markers in the group.
func (g *Group) Label() string {
	return fmt.Sprintf("+%d", len(g.CitationIDs))
}

type Rendering struct {
	MessageID string
	Segments  []Segment
	Groups    []*Group
	missing   []int
}

// Link splits text into plain segments and marker groups. It is a pure
// function of its arguments: group ids are numbered left to right as
// "{messageID}-g{n}" starting at zero.
func Link(messageID, text string, citations []models.Citation) Rendering {
	r := Rendering{MessageID: messageID}
	byID := make(map[int]models.Citation, len(citations))
	for _, c := range citations {
		byID[c.ID] = c
	}

	missingSeen := make(map[int]struct{})
	last := 0
	prevPlain := ""
	for n, loc := range markerRun.FindAllStringIndex(text, -1) {
		if loc[0] > last {
			prevPlain = text[last:loc[0]]
			r.Segments = append(r.Segments, Segment{Kind: SegmentPlain, Text: prevPlain})
		} else {
			// adjacent to the previous group or at the start
			prevPlain = ""
		}

		raw := text[loc[0]:loc[1]]
		g := &Group{
			ID:       fmt.Sprintf("%s-g%d", messageID, n),
			Supports: prevPlain,
			Raw:      raw,
		}
		for _, m := range marker.FindAllStringSubmatch(raw, -1) {
			id, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			g.CitationIDs = append(g.CitationIDs, id)
			if c, ok := byID[id]; ok {
				g.Citations = append(g.Citations, c)
			} else if _, seen := missingSeen[id]; !seen {
				missingSeen[id] = struct{}{}
				r.missing = append(r.missing, id)
			}
		}
		r.Segments = append(r.Segments, Segment{Kind: SegmentGroup, Text: raw, Group: g})
		r.Groups = append(r.Groups, g)
		last = loc[1]
	}
	if last < len(text) || len(r.Segments) == 0 {
		r.Segments = append(r.Segments, Segment{Kind: SegmentPlain, Text: text[last:]})
	}
	return r
}

// Group looks a group up by id.
func (r Rendering) Group(id string) (*Group, bool) {
	for _, g := range r.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return nil, false
}

// Missing lists marker ids with no backing citation, in first-seen order.
func (r Rendering) Missing() []int {
	return r.missing
}
