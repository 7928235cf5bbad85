package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/raphaelgruber/ragone/internal/models"
)

const pollInterval = time.Second

// DocumentLister lists the documents of a knowledge base.
type DocumentLister interface {
	ListDocuments(ctx context.Context, knowledgeBaseID int64) ([]models.Document, error)
}

// Ingestion summarizes document processing in a knowledge base.
type Ingestion struct {
	Total     int
	Completed int
	Failed    []models.Document
	Chunks    int
}

// Done reports whether no document is still pending or processing.
func (in Ingestion) Done() bool {
	return in.Completed+len(in.Failed) == in.Total
}

// Summarize counts document states. When ids is non-empty only those
// documents are considered.
func Summarize(docs []models.Document, ids ...int64) Ingestion {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	var in Ingestion
	for _, d := range docs {
		if len(want) > 0 && !want[d.ID] {
			continue
		}
		in.Total++
		switch d.ProcessStatus {
		case models.ProcessCompleted:
			in.Completed++
			in.Chunks += d.ChunkCount
		case models.ProcessFailed:
			in.Failed = append(in.Failed, d)
		}
	}
	return in
}

// tickMsg triggers polling the document list.
type tickMsg time.Time

// docsUpdateMsg carries the updated document list.
type docsUpdateMsg struct {
	docs []models.Document
	err  error
}

// progressModel is the bubbletea model for ingestion progress.
type progressModel struct {
	ctx             context.Context
	lister          DocumentLister
	knowledgeBaseID int64
	ids             []int64
	state           *Ingestion
	progress        progress.Model
	theme           Theme
	done            bool
	quitting        bool
	err             error
}

func newProgressModel(ctx context.Context, lister DocumentLister, knowledgeBaseID int64, ids []int64) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		ctx:             ctx,
		lister:          lister,
		knowledgeBaseID: knowledgeBaseID,
		ids:             ids,
		progress:        prog,
		theme:           DefaultTheme,
	}
}

// Init fetches the first snapshot.
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		m.fetchDocs(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchDocs()

	case docsUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch document status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		in := Summarize(msg.docs, m.ids...)
		m.state = &in
		if in.Done() {
			m.done = true
			return m, tea.Quit
		}
		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}
	if m.state == nil {
		return "Loading document status...\n"
	}

	var pct float64
	if m.state.Total > 0 {
		pct = float64(m.state.Completed+len(m.state.Failed)) / float64(m.state.Total)
	}

	status := m.theme.statusStyle().Render("[processing]")
	bar := m.progress.ViewAs(pct)
	counts := fmt.Sprintf("%d/%d documents", m.state.Completed+len(m.state.Failed), m.state.Total)
	hint := m.theme.hintStyle().Render("Press Ctrl+C to stop watching; processing continues on the server")

	return fmt.Sprintf("%s %s %s\n%s\n", status, bar, counts, hint)
}

func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nProcessing continues on the server.\nUse 'ragone docs list --kb %d' to check status.\n", m.knowledgeBaseID)
		return m.theme.hintStyle().Render(msg)
	}
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ %s\n", m.err))
	}
	if m.state == nil {
		return m.theme.completedStyle().Render("✓ Nothing to process\n")
	}
	return ingestionReport(m.theme, *m.state)
}

func ingestionReport(theme Theme, in Ingestion) string {
	var b strings.Builder
	b.WriteString(theme.completedStyle().Render("✓ Processed") + "\n\n")
	fmt.Fprintf(&b, "  Documents completed: %d/%d\n", in.Completed, in.Total)
	fmt.Fprintf(&b, "  Chunks indexed:      %d\n", in.Chunks)
	if len(in.Failed) > 0 {
		b.WriteString(theme.errorStyle().Render(fmt.Sprintf("\nFailed (%d):\n", len(in.Failed))))
		for _, d := range in.Failed {
			fmt.Fprintf(&b, "  • %s: %s\n", d.OriginalFilename, d.ProcessMessage)
		}
	}
	return b.String()
}

// fetchDocs fetches the document list. Runs as a command to avoid blocking
// Update.
func (m progressModel) fetchDocs() tea.Cmd {
	ctx, lister, kbID := m.ctx, m.lister, m.knowledgeBaseID
	return func() tea.Msg {
		docs, err := lister.ListDocuments(ctx, kbID)
		return docsUpdateMsg{docs: docs, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunIngestProgress shows processing progress for documents in a knowledge
// base until every watched document completed or failed. With no ids every
// document in the knowledge base is watched. Ctrl+C stops watching without
// error.
func RunIngestProgress(ctx context.Context, lister DocumentLister, knowledgeBaseID int64, ids ...int64) error {
	model := newProgressModel(ctx, lister, knowledgeBaseID, ids)
	p := tea.NewProgram(model, tea.WithContext(ctx))

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}
	if m, ok := finalModel.(progressModel); ok && !m.quitting && m.err != nil {
		return m.err
	}
	return nil
}
