package ui

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/doridoridoriand/conwatch/internal/config"
	"github.com/doridoridoriand/conwatch/internal/monitor"
	"github.com/doridoridoriand/conwatch/internal/notify"
	"github.com/doridoridoriand/conwatch/internal/probe"
	"github.com/doridoridoriand/conwatch/internal/rotation"
	"github.com/doridoridoriand/conwatch/internal/state"
	"github.com/gdamore/tcell/v2"
)

const (
	uiRefreshInterval = 500 * time.Millisecond
	minBoxHeight      = 3
	headerRows        = 4
)

// EngineSource supplies engine snapshots.
type EngineSource interface {
	Snapshot() monitor.Snapshot
}

// canvas is the subset of tcell.Screen the renderer draws on.
type canvas interface {
	SetContent(x, y int, primary rune, combining []rune, style tcell.Style)
	Size() (int, int)
}

// UI renders a TUI view of the monitor.
type UI struct {
	opts   config.MonitorOptions
	engine EngineSource
	store  state.Store
	now    func() time.Time
}

// New returns a UI instance. store may be nil.
func New(opts config.MonitorOptions, engine EngineSource, store state.Store) *UI {
	return &UI{opts: opts, engine: engine, store: store, now: time.Now}
}

// Run blocks until the context is cancelled or the user quits.
func (u *UI) Run(ctx context.Context) error {
	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := screen.Init(); err != nil {
		return err
	}
	screen.HideCursor()
	defer screen.Fini()

	eventCh := make(chan tcell.Event, 1)
	go func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				return
			}
			select {
			case eventCh <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(uiRefreshInterval)
	defer ticker.Stop()

	u.draw(screen)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-eventCh:
			switch ev := ev.(type) {
			case *tcell.EventKey:
				if ev.Key() == tcell.KeyCtrlC || ev.Rune() == 'q' {
					return context.Canceled
				}
			case *tcell.EventResize:
				screen.Sync()
			}
		case <-ticker.C:
			u.draw(screen)
		}
	}
}

func (u *UI) draw(screen tcell.Screen) {
	screen.Clear()
	u.render(screen)
	screen.Show()
}

func (u *UI) render(c canvas) {
	width, height := c.Size()
	if width < 20 || height < headerRows+1 {
		return
	}

	snap := u.engine.Snapshot()
	var conn state.Connectivity
	var recent []state.Record
	if u.store != nil {
		conn = u.store.Snapshot()
		recent = u.store.Recent(0)
	}

	header := fmt.Sprintf(" conwatch  %s  (q to quit)", u.now().Format("2006-01-02 15:04:05"))
	drawText(c, 0, 0, width, header, tcell.StyleDefault.Bold(true))
	drawText(c, 0, 1, width, formatConfigInfo(u.opts), tcell.StyleDefault.Foreground(tcell.ColorGray))
	drawStyledText(c, 0, 2, width, formatStatusLine(width, snap, conn))
	drawText(c, 0, 3, width, formatLastProbe(snap.LastProbe), tcell.StyleDefault)

	y := headerRows
	remaining := height - y
	if remaining < minBoxHeight {
		return
	}

	targetsHeight := len(snap.Targets) + 2
	if len(recent) > 0 && remaining >= 2*minBoxHeight {
		targetsHeight = min(targetsHeight, remaining-minBoxHeight)
	}
	targetsHeight = max(min(targetsHeight, remaining), minBoxHeight)
	title := "targets"
	if snap.FallbackInUse {
		title = "targets (fallback)"
	}
	drawBox(c, 0, y, width, targetsHeight)
	drawText(c, 2, y, width-4, " "+title+" ", tcell.StyleDefault.Bold(true))
	for i := 0; i < len(snap.Targets) && i < targetsHeight-2; i++ {
		line := formatTargetLine(width-2, snap.Targets[i], i == snap.Upcoming)
		drawStyledText(c, 1, y+1+i, width-2, line)
	}
	y += targetsHeight

	remaining = height - y
	if len(recent) == 0 || remaining < minBoxHeight {
		return
	}
	drawBox(c, 0, y, width, remaining)
	drawText(c, 2, y, width-4, " events ", tcell.StyleDefault.Bold(true))
	for i, rec := range newestFirst(recent, remaining-2) {
		drawText(c, 1, y+1+i, width-2, formatEventLine(rec), eventStyle(rec.Event, rec.Status))
	}
}

func formatConfigInfo(opts config.MonitorOptions) string {
	return fmt.Sprintf(" mode=%s  max_listeners=%d  levels=%d/%d  sleep=%s/%s/%s/%s  wait_on_failure=%t",
		opts.NotificationMode, opts.MaxListeners, opts.FailureLevel1, opts.FailureLevel2,
		formatDuration(opts.SuccessSleep), formatDuration(opts.FailureSleep1),
		formatDuration(opts.FailureSleep2), formatDuration(opts.FailureSleep3),
		opts.WaitOnFailure)
}

func formatStatusLine(width int, snap monitor.Snapshot, conn state.Connectivity) []styledRune {
	belief := "OFFLINE"
	if snap.Online {
		belief = "ONLINE"
	}
	parts := []styledText{
		{text: " state=", style: tcell.StyleDefault},
		{text: snap.State.String(), style: stateStyle(snap.State)},
		{text: "  belief=", style: tcell.StyleDefault},
		{text: belief, style: onlineStyle(snap.Online)},
		{text: fmt.Sprintf("  failures=%d  listeners=%d  removed=%d", snap.ConsecutiveFailures, snap.Listeners, snap.Removed), style: tcell.StyleDefault},
	}
	if conn.Transitions > 0 {
		parts = append(parts, styledText{
			text:  fmt.Sprintf("  transitions=%d  up=%s  down=%s", conn.Transitions, formatDuration(conn.OnlineDuration), formatDuration(conn.OfflineDuration)),
			style: tcell.StyleDefault,
		})
	}
	return flattenStyledText(parts, width)
}

func formatLastProbe(p monitor.ProbeSummary) string {
	if p.At.IsZero() {
		return " last probe: -"
	}
	line := fmt.Sprintf(" last probe: %s  %s  %s  at %s", p.URL, p.Kind, formatLatency(p.Latency), p.At.Format("15:04:05"))
	if p.Err != "" && p.Kind != probe.OK {
		line += "  (" + p.Err + ")"
	}
	return line
}

func formatTargetLine(width int, target rotation.Target, upcoming bool) []styledRune {
	style := timeoutStyle(target.ConsecutiveTimeouts)
	marker := "  "
	if upcoming {
		marker = "> "
	}
	url := padOrTrim(target.URL, min(40, max(width-20, 10)))
	timeouts := padOrTrim(fmt.Sprintf("TO:%d/%d", target.ConsecutiveTimeouts, rotation.MaxConsecutiveTimeouts), 9)

	parts := []styledText{
		{text: marker, style: tcell.StyleDefault.Bold(true)},
		{text: url, style: tcell.StyleDefault},
		{text: " ", style: tcell.StyleDefault},
		{text: timeouts, style: style},
		{text: " ", style: tcell.StyleDefault},
	}

	used := 0
	for _, p := range parts {
		used += len([]rune(p.text))
	}
	barWidth := width - used
	if barWidth > 0 {
		bar := buildBar(target.ConsecutiveTimeouts, rotation.MaxConsecutiveTimeouts, barWidth)
		parts = append(parts, styledText{text: bar, style: style})
	}

	return flattenStyledText(parts, width)
}

// buildBar renders value/limit as a bar of exactly width runes.
func buildBar(value, limit, width int) string {
	if width <= 0 {
		return ""
	}
	if limit <= 0 || value <= 0 {
		return strings.Repeat(" ", width)
	}
	units := int(math.Round(float64(value) / float64(limit) * float64(width)))
	units = max(min(units, width), 0)
	return strings.Repeat("#", units) + strings.Repeat(" ", width-units)
}

func formatEventLine(rec state.Record) string {
	return fmt.Sprintf("%s  %-12s %s", rec.At.Format("15:04:05"), rec.Event, rec.Status)
}

// newestFirst returns up to n records in reverse order.
func newestFirst(records []state.Record, n int) []state.Record {
	if n <= 0 {
		return nil
	}
	n = min(n, len(records))
	out := make([]state.Record, 0, n)
	for i := len(records) - 1; i >= len(records)-n; i-- {
		out = append(out, records[i])
	}
	return out
}

func drawBox(c canvas, x, y, width, height int) {
	if width < 2 || height < 2 {
		return
	}
	right := x + width - 1
	bottom := y + height - 1

	setCell(c, x, y, '+', tcell.StyleDefault)
	setCell(c, right, y, '+', tcell.StyleDefault)
	setCell(c, x, bottom, '+', tcell.StyleDefault)
	setCell(c, right, bottom, '+', tcell.StyleDefault)

	for col := x + 1; col < right; col++ {
		setCell(c, col, y, '-', tcell.StyleDefault)
		setCell(c, col, bottom, '-', tcell.StyleDefault)
	}
	for row := y + 1; row < bottom; row++ {
		setCell(c, x, row, '|', tcell.StyleDefault)
		setCell(c, right, row, '|', tcell.StyleDefault)
	}
}

func drawText(c canvas, x, y, width int, text string, style tcell.Style) {
	drawStyledText(c, x, y, width, []styledRune{{r: []rune(text), style: style}})
}

type styledText struct {
	text  string
	style tcell.Style
}

type styledRune struct {
	r     []rune
	style tcell.Style
}

func drawStyledText(c canvas, x, y, width int, parts []styledRune) {
	if width <= 0 {
		return
	}
	col := x
	for _, part := range parts {
		for _, r := range part.r {
			if col >= x+width {
				return
			}
			setCell(c, col, y, r, part.style)
			col++
		}
	}
	for col < x+width {
		setCell(c, col, y, ' ', tcell.StyleDefault)
		col++
	}
}

func flattenStyledText(parts []styledText, width int) []styledRune {
	result := make([]styledRune, 0, len(parts))
	used := 0
	for _, part := range parts {
		runes := []rune(part.text)
		if used+len(runes) > width {
			runes = runes[:max(0, width-used)]
		}
		result = append(result, styledRune{r: runes, style: part.style})
		used += len(runes)
		if used >= width {
			break
		}
	}
	return result
}

func setCell(c canvas, x, y int, r rune, style tcell.Style) {
	c.SetContent(x, y, r, nil, style)
}

func padOrTrim(value string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(value)
	if len(runes) > width {
		return string(runes[:width])
	}
	if len(runes) < width {
		return value + strings.Repeat(" ", width-len(runes))
	}
	return value
}

func formatLatency(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return formatDuration(d)
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dus", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

func stateStyle(s monitor.State) tcell.Style {
	switch s {
	case monitor.Running:
		return tcell.StyleDefault.Foreground(tcell.ColorGreen)
	case monitor.Paused:
		return tcell.StyleDefault.Foreground(tcell.ColorYellow)
	default:
		return tcell.StyleDefault.Foreground(tcell.ColorGray)
	}
}

func onlineStyle(online bool) tcell.Style {
	if online {
		return tcell.StyleDefault.Foreground(tcell.ColorGreen)
	}
	return tcell.StyleDefault.Foreground(tcell.ColorRed)
}

func timeoutStyle(timeouts int) tcell.Style {
	switch {
	case timeouts == 0:
		return tcell.StyleDefault.Foreground(tcell.ColorGreen)
	case timeouts < rotation.MaxConsecutiveTimeouts/2:
		return tcell.StyleDefault.Foreground(tcell.ColorYellow)
	default:
		return tcell.StyleDefault.Foreground(tcell.ColorRed)
	}
}

func eventStyle(evt notify.Event, st notify.Status) tcell.Style {
	switch {
	case evt == notify.ConFailure:
		return tcell.StyleDefault.Foreground(tcell.ColorYellow)
	case evt == notify.MonAborted, st == notify.Offline:
		return tcell.StyleDefault.Foreground(tcell.ColorRed)
	case evt == notify.ConChanged && st == notify.Online:
		return tcell.StyleDefault.Foreground(tcell.ColorGreen)
	default:
		return tcell.StyleDefault
	}
}
