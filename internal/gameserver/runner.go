// Package gameserver runs the in-game action sequences of an event over a
// remote command channel: the opening announcement, periodic scoreboard
// displays and the closing ceremony with rewards.
package gameserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cankoe/rcon-event-scheduler/internal/models"
	"github.com/cankoe/rcon-event-scheduler/internal/templates"
)

// Commander executes a batch of console commands and returns one response per command.
type Commander interface {
	Execute(ctx context.Context, commands []string) ([]string, error)
}

type TemplateSource interface {
	Load(ref string) (*templates.Template, error)
}

type WinnerStore interface {
	SaveWinners(ctx context.Context, eventID int64, winners []models.Winner) error
}

const (
	bellSound      = "execute as @a at @s run playsound minecraft:block.bell.use master @s ~ ~ ~ 100"
	witherSound    = "execute as @a at @s run playsound minecraft:entity.wither.death master @s ~ ~ ~ 100"
	fireworkBurst  = "execute as @a at @s run particle minecraft:firework ~ ~ ~ 1 1 1 0.2 100 force"
	fireworkSound  = "execute as @a at @s run playsound minecraft:entity.firework_rocket.twinkle master @s ~ ~ ~ 100"
	ceremonyMusic  = "execute as @a at @s run playsound minecraft:music_disc.lava_chicken master @s ~ ~ ~ 100"
	stopAllSounds  = "stopsound @a"
	listTracked    = "scoreboard players list"
	listOnline     = "list"
	clearSidebar   = "scoreboard objectives setdisplay sidebar"
	bellCount      = 9
	bellGap        = 250 * time.Millisecond
	fireworkRounds = 5
	fireworkGap    = 300 * time.Millisecond
	countdownGap   = time.Second
)

// Outcome summarizes a finished event.
type Outcome struct {
	Leaders []string
	Score   int
}

type Runner struct {
	cmd       Commander
	templates TemplateSource
	winners   WinnerStore
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

func NewRunner(cmd Commander, tpl TemplateSource, winners WinnerStore) *Runner {
	return &Runner{cmd: cmd, templates: tpl, winners: winners, sleep: sleepCtx, now: time.Now}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// run sends commands and treats any failure as an empty response.
func (r *Runner) run(ctx context.Context, commands ...string) []string {
	out, err := r.cmd.Execute(ctx, commands)
	if err != nil {
		log.Warn().Err(err).Strs("commands", commands).Msg("Remote command failed")
		return nil
	}
	return out
}

func (r *Runner) first(ctx context.Context, command string) (string, bool) {
	out := r.run(ctx, command)
	if len(out) == 0 {
		return "", false
	}
	return out[0], true
}

func (r *Runner) load(ev *models.Event) (*templates.Template, error) {
	tpl, err := r.templates.Load(ev.ConfigRef)
	if err != nil {
		return nil, fmt.Errorf("load template for event %d: %w", ev.ID, err)
	}
	return tpl, nil
}

type textComponent struct {
	Text  string `json:"text"`
	Color string `json:"color,omitempty"`
	Bold  *bool  `json:"bold,omitempty"`
}

func tellraw(target, text, color string) string {
	b, _ := json.Marshal(textComponent{Text: text, Color: color})
	return "tellraw " + target + " " + string(b)
}

func plainTellraw(target, text string) string {
	b, _ := json.Marshal(text)
	return "tellraw " + target + " " + string(b)
}

// Start announces the event, plays the opening sounds and runs the template's setup commands.
// Like the other sequences it runs to the end even if ctx is cancelled.
func (r *Runner) Start(ctx context.Context, ev *models.Event) error {
	ctx = context.WithoutCancel(ctx)
	tpl, err := r.load(ev)
	if err != nil {
		return err
	}
	logger := log.With().Int64("event_id", ev.ID).Str("template", tpl.Name).Logger()

	r.run(ctx, tellraw("@a", fmt.Sprintf("The %s event is starting", tpl.Name), "gold"))
	for i := 0; i < bellCount; i++ {
		r.run(ctx, bellSound)
		if err := r.sleep(ctx, bellGap); err != nil {
			return err
		}
	}
	r.run(ctx, tellraw("@a", tpl.Description, "aqua"))
	r.run(ctx, witherSound)

	if len(tpl.Commands.Setup) == 0 {
		logger.Warn().Msg("Template has no setup commands")
	}
	for _, c := range tpl.Commands.Setup {
		r.run(ctx, c)
	}
	logger.Info().Msg("Event start sequence completed")
	return nil
}

// DisplayScoreboard recomputes aggregate scores, announces the current
// leaders and shows the sidebar for the template's duration.
func (r *Runner) DisplayScoreboard(ctx context.Context, ev *models.Event) error {
	ctx = context.WithoutCancel(ctx)
	tpl, err := r.load(ev)
	if err != nil {
		return err
	}
	r.aggregate(ctx, tpl)
	r.findLeaders(ctx, tpl, false)
	return r.showSidebar(ctx, tpl)
}

// Close runs the closing ceremony, rewards online winners, persists the
// winners and removes the event's objectives.
func (r *Runner) Close(ctx context.Context, ev *models.Event) (Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	tpl, err := r.load(ev)
	if err != nil {
		return Outcome{}, err
	}
	r.aggregate(ctx, tpl)
	outcome, err := r.ceremony(ctx, ev, tpl)
	if err != nil {
		return outcome, err
	}
	r.cleanup(ctx, tpl)
	return outcome, nil
}

func (r *Runner) trackedPlayers(ctx context.Context) []string {
	out, ok := r.first(ctx, listTracked)
	if !ok {
		log.Warn().Msg("No response to tracked player query")
		return nil
	}
	players := parseTracked(out)
	if players == nil {
		log.Warn().Str("response", out).Msg("Could not parse tracked players from scoreboard")
	}
	return players
}

func (r *Runner) onlinePlayers(ctx context.Context) ([]string, bool) {
	out, ok := r.first(ctx, listOnline)
	if !ok {
		return nil, false
	}
	return parseOnline(out), true
}

func (r *Runner) aggregate(ctx context.Context, tpl *templates.Template) {
	if !tpl.IsAggregate {
		return
	}
	players := r.trackedPlayers(ctx)
	if len(players) == 0 {
		log.Warn().Str("objective", tpl.AggregateObjective).Msg("No tracked players, nothing to aggregate")
		return
	}
	obj := tpl.AggregateObjective
	for _, p := range players {
		r.run(ctx, fmt.Sprintf("scoreboard players set %s %s 0", p, obj))
		for _, src := range tpl.Commands.Aggregate {
			r.run(ctx, fmt.Sprintf("scoreboard players operation %s %s += %s %s", p, obj, p, src))
		}
	}
	log.Debug().Int("players", len(players)).Str("objective", obj).Msg("Scores aggregated")
}

// findLeaders returns the players sharing the top score. A top score of zero
// means nobody took part and yields no leaders.
func (r *Runner) findLeaders(ctx context.Context, tpl *templates.Template, silent bool) ([]string, int) {
	if tpl.AggregateObjective == "" {
		log.Error().Str("template", tpl.Name).Msg("Template has no aggregate objective")
		return nil, 0
	}
	players := r.trackedPlayers(ctx)
	if len(players) == 0 {
		return nil, 0
	}

	var leaders []string
	top := 0
	for _, p := range players {
		out, ok := r.first(ctx, fmt.Sprintf("scoreboard players get %s %s", p, tpl.AggregateObjective))
		if !ok {
			continue
		}
		score, ok := parseScore(out)
		if !ok {
			log.Warn().Str("player", p).Str("response", out).Msg("Could not parse score")
			continue
		}
		switch {
		case leaders == nil || score > top:
			leaders, top = []string{p}, score
		case score == top:
			leaders = append(leaders, p)
		}
	}

	if top == 0 {
		if !silent {
			r.run(ctx, tellraw("@a", fmt.Sprintf("No one participated in the %s event.", tpl.Name), "red"))
		}
		return nil, 0
	}

	if !silent {
		names := strings.Join(leaders, ", ")
		msg := fmt.Sprintf("%s is leading the %s event with %d %s!", names, tpl.Name, top, tpl.ScoreText)
		if len(leaders) > 1 {
			msg = fmt.Sprintf("%s are tied for first in the %s event with %d %s!", names, tpl.Name, top, tpl.ScoreText)
		}
		r.run(ctx, tellraw("@a", msg, "gold"))
	}
	return leaders, top
}

func (r *Runner) showSidebar(ctx context.Context, tpl *templates.Template) error {
	if tpl.Sidebar == nil || tpl.AggregateObjective == "" {
		log.Warn().Str("template", tpl.Name).Msg("Template has no sidebar configuration")
		return nil
	}
	sb := tpl.Sidebar
	obj := tpl.AggregateObjective
	title, _ := json.Marshal(textComponent{Text: sb.DisplayName, Color: sb.Color, Bold: &sb.Bold})

	r.run(ctx, "scoreboard objectives setdisplay sidebar "+obj)
	r.run(ctx, fmt.Sprintf("scoreboard objectives modify %s displayname %s", obj, title))
	err := r.sleep(ctx, time.Duration(sb.Duration)*time.Second)
	r.run(ctx, clearSidebar)
	return err
}

func (r *Runner) ceremony(ctx context.Context, ev *models.Event, tpl *templates.Template) (Outcome, error) {
	leaders, score := r.findLeaders(ctx, tpl, true)
	outcome := Outcome{Leaders: leaders, Score: score}
	hasWinners := len(leaders) > 0 && score > 0

	r.run(ctx, tellraw("@a", fmt.Sprintf("The %s event has ended!", tpl.Name), "gold"))
	for i := 0; i < fireworkRounds; i++ {
		r.run(ctx, fireworkBurst, fireworkSound)
		if err := r.sleep(ctx, fireworkGap); err != nil {
			return outcome, err
		}
	}

	if hasWinners {
		r.run(ctx, tellraw("@a", fmt.Sprintf("%s won the event with %d %s", strings.Join(leaders, ", "), score, tpl.ScoreText), "green"))
	} else {
		r.run(ctx, tellraw("@a", "Unfortunately, nobody participated in this event!", "red"))
	}

	r.run(ctx, ceremonyMusic)
	if err := r.showSidebar(ctx, tpl); err != nil {
		return outcome, err
	}
	r.run(ctx, stopAllSounds)

	if !hasWinners {
		log.Info().Int64("event_id", ev.ID).Msg("Event ended with no winners")
		return outcome, nil
	}

	online, ok := r.onlinePlayers(ctx)
	if !ok {
		log.Error().Int64("event_id", ev.ID).Msg("Could not get online players list")
	}
	isOnline := make(map[string]bool, len(online))
	for _, p := range online {
		isOnline[p] = true
	}

	if err := r.reward(ctx, tpl, leaders, isOnline); err != nil {
		return outcome, err
	}
	r.saveWinners(ctx, ev, leaders, score, isOnline)
	return outcome, nil
}

func (r *Runner) reward(ctx context.Context, tpl *templates.Template, leaders []string, isOnline map[string]bool) error {
	if !tpl.HasReward() {
		log.Warn().Str("template", tpl.Name).Msg("Template has no reward configured")
		return nil
	}
	var offline []string
	for _, w := range leaders {
		if !isOnline[w] {
			offline = append(offline, w)
			continue
		}
		for _, line := range []string{
			fmt.Sprintf("You have won the %s event!", tpl.Name),
			"You will be receiving your prize in...",
			"3!", "2!", "1!",
		} {
			r.run(ctx, plainTellraw(w, line))
			if err := r.sleep(ctx, countdownGap); err != nil {
				return err
			}
		}
		r.run(ctx, strings.ReplaceAll(fmt.Sprintf("give %s %s", w, tpl.RewardCmd), "'", `"`))
		r.run(ctx, tellraw(w, fmt.Sprintf("You have been given the legendary %s!", tpl.RewardName), "light_purple"))
		log.Info().Str("player", w).Str("reward", tpl.RewardName).Msg("Reward handed out")
	}
	if len(offline) > 0 {
		log.Warn().Strs("players", offline).Msg("Offline winners need manual reward")
	}
	return nil
}

func (r *Runner) saveWinners(ctx context.Context, ev *models.Event, leaders []string, score int, isOnline map[string]bool) {
	at := r.now()
	winners := make([]models.Winner, 0, len(leaders))
	for _, w := range leaders {
		winners = append(winners, models.Winner{
			EventID:    ev.ID,
			PlayerName: w,
			FinalScore: score,
			WasOnline:  isOnline[w],
			RewardedAt: at,
		})
	}
	if err := r.winners.SaveWinners(ctx, ev.ID, winners); err != nil {
		log.Error().Err(err).Int64("event_id", ev.ID).Msg("Failed to save winners")
		return
	}
	log.Info().Int64("event_id", ev.ID).Strs("winners", leaders).Int("score", score).Msg("Event results saved")
}

func (r *Runner) cleanup(ctx context.Context, tpl *templates.Template) {
	if len(tpl.Commands.Cleanup) == 0 {
		log.Warn().Str("template", tpl.Name).Msg("No cleanup objectives specified")
		return
	}
	for _, obj := range tpl.Commands.Cleanup {
		r.run(ctx, "scoreboard objectives remove "+obj)
	}
}
