package mockagent

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"palchat/internal/models"
)

const (
	nodeIntent = "intent_resolver"
	nodeDocs   = "doc_resolver"
	nodeFormat = "format_response"

	actionSummarize = "summarize"
	actionInquire   = "inquire"
	actionCompare   = "compare"
	actionAudit     = "audit"

	msgActionUnsure   = "I'm not sure what you'd like to do. Please choose an action:"
	msgActionMultiple = "I can only perform one action at a time. Which would you like to do first?"
	msgDocUnknown     = "I couldn't find the document you're referring to. Please @tag the document you'd like to use."
	msgActionCancel   = "I wasn't sure which action to perform. Try again using @Summarize, @Inquire, @Compare, or @Audit with your message."
	msgNothingFound   = "I couldn't find anything relevant to that in your documents."
)

var actionOptions = []models.Option{
	{ID: actionSummarize, Label: "Summarize"},
	{ID: actionInquire, Label: "Inquire"},
	{ID: actionCompare, Label: "Compare"},
	{ID: actionAudit, Label: "Audit"},
}

var nodeMessages = map[string]string{
	nodeIntent:      "Understanding your request...",
	nodeDocs:        "Resolving documents...",
	actionSummarize: "Summarizing documents...",
	actionInquire:   "Searching your documents...",
	actionCompare:   "Comparing documents...",
	actionAudit:     "Auditing against policy...",
	nodeFormat:      "Formatting response...",
}

var actionVerbs = map[string]string{
	actionSummarize: "summarize",
	actionCompare:   "compare",
	actionAudit:     "audit against",
	actionInquire:   "query",
}

var actionKeywords = []struct {
	action string
	re     *regexp.Regexp
}{
	{actionSummarize, regexp.MustCompile(`(?i)\b(summari[sz]e|summary|overview|tl;?dr)\b`)},
	{actionCompare, regexp.MustCompile(`(?i)\b(compare|comparison|versus|vs\.?|differences?)\b`)},
	{actionAudit, regexp.MustCompile(`(?i)\b(audit|compliant|compliance|check against)\b`)},
	{actionInquire, regexp.MustCompile(`(?i)(\?\s*$|^\s*(what|how|when|where|why|which|does|is|are|can)\b)`)},
}

// temporal words switch web search on
var temporalRE = regexp.MustCompile(`(?i)\b(latest|recent|current|now|today|still|updated?|new|2025|2026)\b`)

type stage string

const (
	stageAction   stage = "action"
	stageDocument stage = "document"
)

// turn is the state of one run through the pipeline. It is checkpointed while
// the run is suspended on an interrupt.
type turn struct {
	Stage      stage    `json:"stage,omitempty"`
	Pending    string   `json:"pending,omitempty"`
	Message    string   `json:"message"`
	Action     string   `json:"action,omitempty"`
	DocIDs     []string `json:"doc_ids,omitempty"`
	SetIDs     []string `json:"set_ids,omitempty"`
	WebSearch  bool     `json:"web_search"`
	Candidates []string `json:"candidates,omitempty"`
	Confidence string   `json:"confidence,omitempty"`
}

// outcome is the terminal event of a run: exactly one field is set.
type outcome struct {
	interrupt *models.InterruptEvent
	response  *models.ResponseEvent
	turn      turn
}

type sink func(v any) error

// run drives t through intent, document, action and format nodes, emitting a
// status per completed node. resume is non-nil when t was checkpointed.
func (s *Server) run(ctx context.Context, t turn, resume *models.ResumeValue, emit sink) (outcome, error) {
	resumed := t.Stage
	pending := t.Pending
	t.Stage, t.Pending = "", ""

	if resumed != stageDocument {
		if resumed == stageAction {
			if resume.IsCancel() {
				return s.feedback(ctx, t, msgActionCancel, emit)
			}
			value := resumeString(resume)
			if !isAction(value) {
				return outcome{}, fmt.Errorf("unknown action %q", value)
			}
			t.Action = value
			t.Confidence = "medium"
		} else if t.Action == "" {
			detected := detectActions(t.Message)
			switch len(detected) {
			case 0:
				return suspend(t, stageAction, models.WireActionChoice, msgActionUnsure, actionOptions), nil
			case 1:
				t.Action = detected[0]
				t.Confidence = "medium"
			default:
				var opts []models.Option
				for _, opt := range actionOptions {
					for _, a := range detected {
						if opt.ID == a {
							opts = append(opts, opt)
						}
					}
				}
				return suspend(t, stageAction, models.WireActionChoice, msgActionMultiple, opts), nil
			}
		} else {
			t.Confidence = "high"
		}
		if temporalRE.MatchString(t.Message) {
			t.WebSearch = true
		}
		if err := s.status(ctx, emit, nodeIntent, nil, ""); err != nil {
			return outcome{}, err
		}
	}

	if resumed == stageDocument {
		if resume.IsCancel() {
			msg := fmt.Sprintf("I can't proceed with %s without a specific document. Please @tag a document and try again for optimal results.",
				capitalize(t.Action))
			return s.feedback(ctx, t, msg, emit)
		}
		value := resumeString(resume)
		switch {
		case pending == models.WireDocChoice && value == "all":
			t.DocIDs = appendUnique(t.DocIDs, t.Candidates...)
		case pending == models.WireDocChoice:
			t.DocIDs = appendUnique(t.DocIDs, value)
		default:
			ids := s.catalog.match(value)
			if _, ok := s.catalog.get(value); ok {
				ids = []string{value}
			}
			if len(ids) == 0 {
				return suspend(t, stageDocument, models.WireTextInput, msgDocUnknown, nil), nil
			}
			t.DocIDs = appendUnique(t.DocIDs, ids...)
		}
		t.Candidates = nil
	} else {
		t.DocIDs = appendUnique(t.DocIDs, s.catalog.inSets(t.SetIDs)...)
		if len(t.DocIDs) == 0 && t.Action != actionInquire {
			candidates := s.catalog.match(t.Message)
			switch {
			case len(candidates) == 1:
				t.DocIDs = candidates
			case len(candidates) > 1:
				return s.chooseDocument(t, candidates), nil
			case len(s.catalog.docs) > 0:
				all := make([]string, 0, len(s.catalog.docs))
				for _, d := range s.catalog.docs {
					all = append(all, d.ID)
				}
				return s.chooseDocument(t, all), nil
			default:
				return suspend(t, stageDocument, models.WireTextInput, msgDocUnknown, nil), nil
			}
		}
	}

	found := make([]models.DocRef, 0, len(t.DocIDs))
	for _, id := range t.DocIDs {
		found = append(found, models.DocRef{ID: id, Title: s.catalog.title(id)})
	}
	if err := s.status(ctx, emit, nodeDocs, found, ""); err != nil {
		return outcome{}, err
	}

	query := ""
	if t.WebSearch {
		query = t.Message
	}
	if err := s.status(ctx, emit, t.Action, nil, query); err != nil {
		return outcome{}, err
	}
	if err := s.status(ctx, emit, nodeFormat, nil, ""); err != nil {
		return outcome{}, err
	}
	resp := s.compose(t)
	return outcome{response: &resp, turn: t}, nil
}

func (s *Server) chooseDocument(t turn, candidates []string) outcome {
	opts := make([]models.Option, 0, len(candidates)+1)
	for _, id := range candidates {
		opts = append(opts, models.Option{ID: id, Label: s.catalog.title(id)})
	}
	opts = append(opts, models.Option{ID: "all", Label: "All of these"})
	t.Candidates = candidates
	verb := actionVerbs[t.Action]
	if verb == "" {
		verb = "use"
	}
	return suspend(t, stageDocument, models.WireDocChoice, fmt.Sprintf("Which document would you like to %s?", verb), opts)
}

// feedback ends a cancelled run with an explanation instead of an answer.
func (s *Server) feedback(ctx context.Context, t turn, msg string, emit sink) (outcome, error) {
	if err := s.status(ctx, emit, nodeFormat, nil, ""); err != nil {
		return outcome{}, err
	}
	action := t.Action
	if action == "" {
		action = actionInquire
	}
	resp := models.ResponseEvent{
		Type:                models.EventResponse,
		Response:            msg,
		Citations:           []models.Citation{},
		Action:              action,
		InferenceConfidence: "low",
		RetrievalConfidence: "low",
	}
	return outcome{response: &resp, turn: t}, nil
}

func (s *Server) status(ctx context.Context, emit sink, node string, docs []models.DocRef, webQuery string) error {
	if err := s.pause(ctx); err != nil {
		return err
	}
	ev := models.StatusEvent{Type: models.EventStatus, Node: node, Message: nodeMessages[node], WebQuery: webQuery}
	if len(docs) > 0 {
		ev.DocsFound = docs
	}
	return emit(ev)
}

func (s *Server) compose(t turn) models.ResponseEvent {
	docs := make([]Document, 0, len(t.DocIDs))
	for _, id := range t.DocIDs {
		d, ok := s.catalog.get(id)
		if !ok {
			d = Document{ID: id, Title: id}
		}
		docs = append(docs, d)
	}
	retrieval := "high"
	if len(docs) == 0 {
		for _, id := range s.catalog.match(t.Message) {
			d, _ := s.catalog.get(id)
			docs = append(docs, d)
		}
		retrieval = "medium"
	}

	var (
		sentences []string
		citations = []models.Citation{}
	)
	cite := func(d Document) string {
		c := models.Citation{
			ID:         len(citations) + 1,
			SourceType: models.SourceDocument,
			DocID:      d.ID,
			Title:      d.Title,
			Quote:      d.Excerpt,
		}
		if d.Page > 0 {
			page := d.Page
			c.Page = &page
		}
		citations = append(citations, c)
		return fmt.Sprintf("[%d]", c.ID)
	}

	switch {
	case len(docs) == 0:
		sentences = append(sentences, msgNothingFound)
		retrieval = "low"
	case t.Action == actionCompare:
		markers := make([]string, 0, len(docs))
		for _, d := range docs {
			markers = append(markers, cite(d))
		}
		sentences = append(sentences, fmt.Sprintf("The documents set out related obligations %s.", strings.Join(markers, "")))
		for i, d := range docs {
			sentences = append(sentences, fmt.Sprintf("%s provides that %s %s.", d.Title, d.Excerpt, markers[i]))
		}
	default:
		for _, d := range docs {
			marker := cite(d)
			switch t.Action {
			case actionSummarize:
				sentences = append(sentences, fmt.Sprintf("%s states that %s %s.", d.Title, d.Excerpt, marker))
			case actionAudit:
				sentences = append(sentences, fmt.Sprintf("Checked against %s: %s %s.", d.Title, d.Excerpt, marker))
			default:
				sentences = append(sentences, fmt.Sprintf("According to %s, %s %s.", d.Title, d.Excerpt, marker))
			}
		}
	}
	if t.WebSearch {
		citations = append(citations, models.Citation{
			ID:         len(citations) + 1,
			SourceType: models.SourceWeb,
			Title:      fmt.Sprintf("Web results for %q", t.Message),
			URL:        "https://duckduckgo.com/?q=" + url.QueryEscape(t.Message),
		})
		sentences = append(sentences, fmt.Sprintf("Recent public sources were also checked [%d].", len(citations)))
	}

	text := strings.Join(sentences, " ")
	tokens := len(strings.Fields(text))*4 + len(strings.Fields(t.Message))*4
	return models.ResponseEvent{
		Type:                models.EventResponse,
		Response:            text,
		Citations:           citations,
		Action:              t.Action,
		InferenceConfidence: t.Confidence,
		RetrievalConfidence: retrieval,
		TokensUsed:          tokens,
		CostUSD:             float64(tokens) * 0.000002,
	}
}

func suspend(t turn, at stage, wireType, message string, options []models.Option) outcome {
	t.Stage = at
	t.Pending = wireType
	ev := models.InterruptEvent{
		Type:          models.EventInterrupt,
		InterruptType: wireType,
		Message:       message,
		Options:       options,
	}
	return outcome{interrupt: &ev, turn: t}
}

func detectActions(message string) []string {
	var found []string
	for _, kw := range actionKeywords {
		if kw.re.MatchString(message) {
			found = append(found, kw.action)
		}
	}
	return found
}

func isAction(id string) bool {
	for _, opt := range actionOptions {
		if opt.ID == id {
			return true
		}
	}
	return false
}

func resumeString(rv *models.ResumeValue) string {
	if rv == nil || rv.Value == nil {
		return ""
	}
	return strings.TrimSpace(*rv.Value)
}

func appendUnique(ids []string, more ...string) []string {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	for _, id := range more {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
