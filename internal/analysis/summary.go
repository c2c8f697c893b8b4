package analysis

import (
	"sort"

	"github.com/freeeve/weakscan/internal/board"
	"github.com/freeeve/weakscan/internal/classify"
	"github.com/freeeve/weakscan/internal/detect"
	"github.com/freeeve/weakscan/internal/game"
)

// PhaseStat summarises the player's moves in one phase.
type PhaseStat struct {
	Phase              classify.Phase `json:"phase" yaml:"phase"`
	Moves              int            `json:"moves" yaml:"moves"`
	ACPL               float64        `json:"acpl" yaml:"acpl"`
	Blunders           int            `json:"blunders" yaml:"blunders"`
	Mistakes           int            `json:"mistakes" yaml:"mistakes"`
	Inaccuracies       int            `json:"inaccuracies" yaml:"inaccuracies"`
	BlundersPer100     float64        `json:"blunders_per_100" yaml:"blunders_per_100"`
	MistakesPer100     float64        `json:"mistakes_per_100" yaml:"mistakes_per_100"`
	InaccuraciesPer100 float64        `json:"inaccuracies_per_100" yaml:"inaccuracies_per_100"`
}

// TimeControlStat summarises one time-control category.
type TimeControlStat struct {
	Category       game.Category `json:"category" yaml:"category"`
	Games          int           `json:"games" yaml:"games"`
	Moves          int           `json:"moves" yaml:"moves"`
	ACPL           float64       `json:"acpl" yaml:"acpl"`
	BlundersPer100 float64       `json:"blunders_per_100" yaml:"blunders_per_100"`
	MistakesPer100 float64       `json:"mistakes_per_100" yaml:"mistakes_per_100"`
}

// TimeStats summarises clock usage. Durations are in seconds.
type TimeStats struct {
	ClockCoverage       float64 `json:"clock_coverage" yaml:"clock_coverage"`
	AvgThink            float64 `json:"avg_think_s" yaml:"avg_think_s"`
	MedianThink         float64 `json:"median_think_s" yaml:"median_think_s"`
	P90Think            float64 `json:"p90_think_s" yaml:"p90_think_s"`
	TimeTroubleRate     float64 `json:"time_trouble_rate" yaml:"time_trouble_rate"`
	BlunderRateInsta    float64 `json:"blunder_rate_insta" yaml:"blunder_rate_insta"`
	BlunderRateNormal   float64 `json:"blunder_rate_normal" yaml:"blunder_rate_normal"`
	AutopilotBlunders   int     `json:"autopilot_blunders" yaml:"autopilot_blunders"`
	CalculationFailures int     `json:"calculation_failures" yaml:"calculation_failures"`
	CriticalMoves       int     `json:"critical_moves" yaml:"critical_moves"`
}

// SwingMove is one of the costliest moves of the run.
type SwingMove struct {
	GameID     string         `json:"game_id" yaml:"game_id"`
	Ply        int            `json:"ply" yaml:"ply"`
	MoveNumber int            `json:"move_number" yaml:"move_number"`
	SAN        string         `json:"san" yaml:"san"`
	BestSAN    string         `json:"best_san" yaml:"best_san"`
	FEN        string         `json:"fen" yaml:"fen"`
	CPL        int            `json:"cpl" yaml:"cpl"`
	EvalBefore string         `json:"eval_before" yaml:"eval_before"`
	EvalAfter  string         `json:"eval_after" yaml:"eval_after"`
	PV         []string       `json:"pv,omitempty" yaml:"pv,omitempty"`
	Phase      classify.Phase `json:"phase" yaml:"phase"`
	URL        string         `json:"url,omitempty" yaml:"url,omitempty"`
}

// GameSummary summarises one analysed game.
type GameSummary struct {
	GameID       string        `json:"game_id" yaml:"game_id"`
	Color        string        `json:"color" yaml:"color"`
	Outcome      game.Outcome  `json:"outcome" yaml:"outcome"`
	TimeControl  game.Category `json:"time_control" yaml:"time_control"`
	Opponent     string        `json:"opponent" yaml:"opponent"`
	Moves        int           `json:"moves" yaml:"moves"`
	ACPL         float64       `json:"acpl" yaml:"acpl"`
	Blunders     int           `json:"blunders" yaml:"blunders"`
	Mistakes     int           `json:"mistakes" yaml:"mistakes"`
	Inaccuracies int           `json:"inaccuracies" yaml:"inaccuracies"`
	URL          string        `json:"url,omitempty" yaml:"url,omitempty"`
	Date         string        `json:"date,omitempty" yaml:"date,omitempty"`
	ECO          string        `json:"eco,omitempty" yaml:"eco,omitempty"`
	Opening      string        `json:"opening,omitempty" yaml:"opening,omitempty"`
}

// Summary holds the run's descriptive statistics.
type Summary struct {
	Player           string            `json:"player" yaml:"player"`
	Games            int               `json:"games" yaml:"games"`
	Moves            int               `json:"moves" yaml:"moves"`
	ACPL             float64           `json:"acpl" yaml:"acpl"`
	Phases           []PhaseStat       `json:"phases" yaml:"phases"`
	TimeControls     []TimeControlStat `json:"time_controls" yaml:"time_controls"`
	Time             *TimeStats        `json:"time,omitempty" yaml:"time,omitempty"`
	Swings           []SwingMove       `json:"swings" yaml:"swings"`
	GameSummaries    []GameSummary     `json:"game_summaries" yaml:"game_summaries"`
	OpeningACPLWhite *float64          `json:"opening_acpl_white,omitempty" yaml:"opening_acpl_white,omitempty"`
	OpeningACPLBlack *float64          `json:"opening_acpl_black,omitempty" yaml:"opening_acpl_black,omitempty"`
}

// swingCount is how many swing moves the summary lists.
const swingCount = 10

// tally counts severities over a set of records.
type tally struct {
	moves, cpl                       int
	blunders, mistakes, inaccuracies int
}

func (t *tally) add(r *classify.MoveRecord) {
	t.moves++
	t.cpl += r.CPL
	switch r.Severity {
	case classify.Blunder:
		t.blunders++
	case classify.Mistake:
		t.mistakes++
	case classify.Inaccuracy:
		t.inaccuracies++
	}
}

func (t tally) acpl() float64 { return ratio(t.cpl, t.moves) }

func per100(n, moves int) float64 { return ratio(n*100, moves) }

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

// Summarize computes the run statistics over the analysed games and their
// records. games fixes the ordering of per-game output.
func Summarize(player string, games []*game.Game, records []*classify.MoveRecord, th classify.Thresholds, calcPct float64) Summary {
	s := Summary{Player: player, Games: len(games), Moves: len(records)}
	order := make(map[string]int, len(games))
	byID := make(map[string]*game.Game, len(games))
	for i, g := range games {
		order[g.ID] = i
		byID[g.ID] = g
	}

	var total tally
	phases := make(map[classify.Phase]*tally)
	tcs := make(map[game.Category]*tally)
	tcGames := make(map[game.Category]map[string]bool)
	perGame := make(map[string]*tally)
	var openW, openB tally
	for _, r := range records {
		total.add(r)
		if phases[r.Phase] == nil {
			phases[r.Phase] = &tally{}
		}
		phases[r.Phase].add(r)
		if tcs[r.TimeControl] == nil {
			tcs[r.TimeControl] = &tally{}
			tcGames[r.TimeControl] = make(map[string]bool)
		}
		tcs[r.TimeControl].add(r)
		tcGames[r.TimeControl][r.GameID] = true
		if perGame[r.GameID] == nil {
			perGame[r.GameID] = &tally{}
		}
		perGame[r.GameID].add(r)
		if r.Phase == classify.Opening {
			if r.Color == board.White {
				openW.add(r)
			} else {
				openB.add(r)
			}
		}
	}
	s.ACPL = total.acpl()

	for _, p := range classify.Phases {
		t := phases[p]
		if t == nil {
			t = &tally{}
		}
		s.Phases = append(s.Phases, PhaseStat{
			Phase:              p,
			Moves:              t.moves,
			ACPL:               t.acpl(),
			Blunders:           t.blunders,
			Mistakes:           t.mistakes,
			Inaccuracies:       t.inaccuracies,
			BlundersPer100:     per100(t.blunders, t.moves),
			MistakesPer100:     per100(t.mistakes, t.moves),
			InaccuraciesPer100: per100(t.inaccuracies, t.moves),
		})
	}
	for _, c := range game.Categories {
		t := tcs[c]
		if t == nil {
			continue
		}
		s.TimeControls = append(s.TimeControls, TimeControlStat{
			Category:       c,
			Games:          len(tcGames[c]),
			Moves:          t.moves,
			ACPL:           t.acpl(),
			BlundersPer100: per100(t.blunders, t.moves),
			MistakesPer100: per100(t.mistakes, t.moves),
		})
	}

	s.Swings = swings(records, byID, order)
	for _, g := range games {
		t := perGame[g.ID]
		if t == nil {
			continue
		}
		s.GameSummaries = append(s.GameSummaries, GameSummary{
			GameID:       g.ID,
			Color:        g.Color.String(),
			Outcome:      g.Outcome,
			TimeControl:  g.TimeControl.Category,
			Opponent:     g.Opponent,
			Moves:        t.moves,
			ACPL:         t.acpl(),
			Blunders:     t.blunders,
			Mistakes:     t.mistakes,
			Inaccuracies: t.inaccuracies,
			URL:          g.URL,
			Date:         g.Date,
			ECO:          g.ECO,
			Opening:      g.Opening,
		})
	}
	if openW.moves > 0 {
		v := openW.acpl()
		s.OpeningACPLWhite = &v
	}
	if openB.moves > 0 {
		v := openB.acpl()
		s.OpeningACPLBlack = &v
	}
	s.Time = timeStats(games, records, th, calcPct)
	return s
}

// swings lists the costliest moves, keeping only the worst per game phase.
func swings(records []*classify.MoveRecord, games map[string]*game.Game, order map[string]int) []SwingMove {
	sorted := make([]*classify.MoveRecord, 0, len(records))
	for _, r := range records {
		if r.CPL > 0 {
			sorted = append(sorted, r)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.CPL != b.CPL {
			return a.CPL > b.CPL
		}
		if order[a.GameID] != order[b.GameID] {
			return order[a.GameID] < order[b.GameID]
		}
		return a.Ply < b.Ply
	})

	type gamePhase struct {
		game  string
		phase classify.Phase
	}
	seen := make(map[gamePhase]bool)
	var out []SwingMove
	for _, r := range sorted {
		if len(out) >= swingCount {
			break
		}
		k := gamePhase{r.GameID, r.Phase}
		if seen[k] {
			continue
		}
		seen[k] = true
		sw := SwingMove{
			GameID:     r.GameID,
			Ply:        r.Ply,
			MoveNumber: r.MoveNumber,
			SAN:        r.SAN,
			BestSAN:    r.BestSAN,
			FEN:        r.Before.FEN(),
			CPL:        r.CPL,
			EvalBefore: r.EvalBefore.String(),
			EvalAfter:  r.EvalAfter.String(),
			PV:         r.BestLine,
			Phase:      r.Phase,
		}
		if g := games[r.GameID]; g != nil {
			sw.URL = g.URL
		}
		out = append(out, sw)
	}
	return out
}

// timeStats reports clock usage, or nil when too few moves carry clocks.
func timeStats(games []*game.Game, records []*classify.MoveRecord, th classify.Thresholds, calcPct float64) *TimeStats {
	moves, withClock := 0, 0
	for _, g := range games {
		for _, p := range g.PlayerPlies() {
			moves++
			if p.HasClock {
				withClock++
			}
		}
	}
	if moves == 0 {
		return nil
	}
	coverage := float64(withClock) / float64(moves)
	if coverage < th.ClockCoverage {
		return nil
	}

	var think []float64
	var insta, normal, instaBlunders, normalBlunders, trouble, critical int
	for _, r := range records {
		if r.Time == nil {
			continue
		}
		if r.Time.Critical {
			critical++
		}
		if !r.Time.HasSpent {
			continue
		}
		think = append(think, r.Time.Spent.Seconds())
		blunder := r.Severity == classify.Blunder
		if r.Time.Insta {
			insta++
			if blunder {
				instaBlunders++
			}
		} else {
			normal++
			if blunder {
				normalBlunders++
			}
		}
		if r.Time.TimeTrouble {
			trouble++
		}
	}
	if len(think) == 0 {
		return nil
	}
	sort.Float64s(think)
	sum := 0.0
	for _, v := range think {
		sum += v
	}

	ts := &TimeStats{
		ClockCoverage:     coverage,
		AvgThink:          sum / float64(len(think)),
		MedianThink:       median(think),
		P90Think:          think[min(int(float64(len(think))*0.9), len(think)-1)],
		TimeTroubleRate:   ratio(trouble, len(think)),
		BlunderRateInsta:  ratio(instaBlunders, insta),
		BlunderRateNormal: ratio(normalBlunders, normal),
		CriticalMoves:     critical,
	}
	for _, tag := range detect.TimeTags(records, calcPct) {
		switch tag {
		case detect.Autopilot:
			ts.AutopilotBlunders++
		case detect.CalculationFailure:
			ts.CalculationFailures++
		}
	}
	return ts
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
