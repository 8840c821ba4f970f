package main

import (
	"fmt"
	"log"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/lowaak/cable-trainer/internal/machine"
	"github.com/lowaak/cable-trainer/internal/plan"
	"github.com/lowaak/cable-trainer/internal/protocol"
)

// dashboard is the single-screen TUI: live cable telemetry on the left,
// plan/rep/rest state on the right, key hints at the bottom.
type dashboard struct {
	app       *tview.Application
	session   *machine.Session
	scheduler *plan.Scheduler
	plan      plan.Plan
	logger    *log.Logger

	cableView *tview.TextView
	planView  *tview.TextView
	repView   *tview.TextView
}

func newDashboard(session *machine.Session, scheduler *plan.Scheduler, p plan.Plan, logger *log.Logger) *dashboard {
	d := &dashboard{
		app:       tview.NewApplication(),
		session:   session,
		scheduler: scheduler,
		plan:      p,
		logger:    logger,
	}

	d.cableView = tview.NewTextView().SetDynamicColors(true)
	d.cableView.SetBorder(true).SetTitle(" Cables ")
	d.planView = tview.NewTextView().SetDynamicColors(true)
	d.planView.SetBorder(true).SetTitle(fmt.Sprintf(" Plan: %s ", p.Name))
	d.repView = tview.NewTextView().SetDynamicColors(true)
	d.repView.SetBorder(true).SetTitle(" Set ")

	hints := tview.NewTextView().
		SetText("s start plan   x stop block   k skip rest   e extend +30s   space pause/resume rest   q quit")

	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(d.planView, 0, 1, false).
		AddItem(d.repView, 0, 1, false)
	body := tview.NewFlex().
		AddItem(d.cableView, 0, 1, false).
		AddItem(right, 0, 1, false)
	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(body, 0, 1, false).
		AddItem(hints, 1, 0, false)

	d.app.SetRoot(root, true)
	d.app.SetInputCapture(d.handleKey)
	return d
}

func (d *dashboard) run() error {
	stopSamples := d.session.ListenToSamples(d.onSample)
	defer stopSamples()
	stopReps := d.session.ListenToReps(d.onRep)
	defer stopReps()
	stopAuto := d.session.ListenToAutoStop(d.onAutoStop)
	defer stopAuto()
	stopProgress := d.scheduler.ListenToProgress(d.onProgress)
	defer stopProgress()

	d.renderPlanState(plan.Progress{State: plan.StateIdle, Plan: d.plan.Name})
	return d.app.Run()
}

func (d *dashboard) handleKey(event *tcell.EventKey) *tcell.EventKey {
	switch {
	case event.Key() == tcell.KeyEscape, event.Rune() == 'q':
		if err := d.scheduler.Abort(); err != nil {
			d.logger.Printf("dashboard: abort: %v", err)
		}
		d.app.Stop()
		return nil
	case event.Rune() == 's':
		if err := d.scheduler.Start(d.plan); err != nil {
			d.logger.Printf("dashboard: start plan: %v", err)
		}
		return nil
	case event.Rune() == 'x':
		if err := d.session.Stop(); err != nil {
			d.logger.Printf("dashboard: stop block: %v", err)
		}
		return nil
	case event.Rune() == 'k':
		if err := d.scheduler.SkipRest(); err != nil {
			d.logger.Printf("dashboard: skip rest: %v", err)
		}
		return nil
	case event.Rune() == 'e':
		if err := d.scheduler.ExtendRest(30 * time.Second); err != nil {
			d.logger.Printf("dashboard: extend rest: %v", err)
		}
		return nil
	case event.Rune() == ' ':
		if err := d.scheduler.PauseRest(); err != nil {
			if err := d.scheduler.ResumeRest(); err != nil {
				d.logger.Printf("dashboard: pause/resume rest: %v", err)
			}
		}
		return nil
	}
	return event
}

func (d *dashboard) onSample(s protocol.MonitorSample) {
	d.app.QueueUpdateDraw(func() {
		d.cableView.SetText(fmt.Sprintf(
			"\n [yellow]Cable A[-]\n   position  %5d\n   load      %6.2f kg\n\n [yellow]Cable B[-]\n   position  %5d\n   load      %6.2f kg\n\n tick %d",
			s.PosA, s.LoadAKg, s.PosB, s.LoadBKg, s.Ticks))
	})
}

func (d *dashboard) onRep(snap machine.Snapshot) {
	d.app.QueueUpdateDraw(func() {
		target := "∞"
		if snap.TargetReps > 0 {
			target = fmt.Sprintf("%d", snap.TargetReps)
		}
		d.repView.SetText(fmt.Sprintf(
			"\n phase    [green]%s[-]\n warmup   %d\n working  %d / %s",
			snap.Phase, snap.WarmupReps, snap.WorkingReps, target))
	})
}

func (d *dashboard) onAutoStop(decision machine.AutoStopDecision) {
	if !decision.Armed {
		return
	}
	d.app.QueueUpdateDraw(func() {
		d.repView.SetTitle(fmt.Sprintf(" Set — auto-stop %2.0f%% ", decision.Progress*100))
	})
}

func (d *dashboard) onProgress(p plan.Progress) {
	d.app.QueueUpdateDraw(func() {
		d.renderPlanState(p)
	})
}

func (d *dashboard) renderPlanState(p plan.Progress) {
	switch p.State {
	case plan.StateIdle:
		d.planView.SetText("\n press [yellow]s[-] to start")
	case plan.StateFinished:
		d.planView.SetText("\n [green]plan finished[-]")
	case plan.StateRunning:
		d.planView.SetText(fmt.Sprintf(
			"\n item  %d/%d  [yellow]%s[-]\n set   %d/%d\n\n [green]lifting[-]",
			p.Cursor.ItemIndex+1, len(d.plan.Items), itemName(p.Item),
			p.Cursor.Set, itemSets(p.Item)))
	case plan.StateResting:
		state := "resting"
		if p.RestPaused {
			state = "rest paused"
		}
		d.planView.SetText(fmt.Sprintf(
			"\n item  %d/%d  [yellow]%s[-]\n set   %d/%d\n\n [aqua]%s[-]  %s left",
			p.Cursor.ItemIndex+1, len(d.plan.Items), itemName(p.Item),
			p.Cursor.Set, itemSets(p.Item),
			state, p.RestRemaining.Truncate(time.Second)))
	}
}

func itemName(item *plan.Item) string {
	if item == nil {
		return "?"
	}
	return item.Name
}

func itemSets(item *plan.Item) int {
	if item == nil {
		return 0
	}
	return item.Sets
}
