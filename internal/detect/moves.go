package detect

import (
	"strconv"
	"strings"

	"github.com/freeeve/weakscan/internal/board"
	"github.com/freeeve/weakscan/internal/game"
	"github.com/freeeve/weakscan/internal/position"
)

// moveRule is a per-move detector.
type moveRule struct {
	name string
	run  func(*Config, *Move) []Event
}

// single adapts a detector that reports at most one event per move.
func single(f func(*Config, *Move) (Event, bool)) func(*Config, *Move) []Event {
	return func(c *Config, m *Move) []Event {
		if ev, ok := f(c, m); ok {
			return []Event{ev}
		}
		return nil
	}
}

// moveRules is the ordered per-move registry.
var moveRules = []moveRule{
	{SubHangEnPrise, single(hangEnPrise)},
	{SubHangMovedDefender, single(hangMovedDefender)},
	{SubHangPinned, single(hangPinned)},
	{string(MissedForcing), single(missedForcing)},
	{string(IgnoredThreat), single(ignoredThreat)},
	{string(AllowedMateThreat), single(allowedMateThreat)},
	{string(OpeningPrinciples), openingPrinciples},
	{string(KingSafety), single(kingSafety)},
}

var minorValue = board.Knight.Value()

func pieceName(letter byte) string {
	return board.KindFromLetter(letter).String()
}

// firstCapture returns the first opponent capture in steps.
func firstCapture(steps []step, player board.Side) (step, bool) {
	for _, s := range steps {
		if s.mover != player && s.facts.IsCapture() {
			return s, true
		}
	}
	return step{}, false
}

func hangEnPrise(c *Config, m *Move) (Event, bool) {
	r := m.Record
	if r.CPL < c.HangCPL || len(r.ReplyLine) == 0 {
		return Event{}, false
	}
	steps := walkLine(r.After, r.ReplyLine, r.Color, 3)
	if materialAt(steps, 3) > -minorValue {
		return Event{}, false
	}
	capture, ok := firstCapture(steps, r.Color)
	if !ok {
		return Event{}, false
	}
	conf := c.conf("hang_en_prise.within3")
	if steps[0].material <= -minorValue {
		conf = c.conf("hang_en_prise.ply1")
	}
	ev := newEvent(Hang, SubHangEnPrise, conf, r)
	ev.Meta = map[string]string{
		"lost_piece_type":        pieceName(capture.facts.Captured),
		"lost_square":            capture.facts.UCI[2:4],
		"captured_by_piece_type": pieceName(capture.facts.Piece),
		"material_loss":          strconv.Itoa(-materialAt(steps, 3)),
	}
	return ev, true
}

func hangMovedDefender(c *Config, m *Move) (Event, bool) {
	r := m.Record
	if m.Before == nil || r.CPL < c.HangCPL || len(r.ReplyLine) == 0 {
		return Event{}, false
	}
	steps := walkLine(r.After, r.ReplyLine, r.Color, 3)
	if len(steps) == 0 || !steps[0].facts.IsCapture() || materialAt(steps, 3) > -minorValue {
		return Event{}, false
	}
	from, to := squareOf(r.Played, false), squareOf(r.Played, true)
	lost := squareOf(steps[0].facts.UCI, true)
	if lost < 0 || lost == to {
		return Event{}, false
	}
	p, ok := m.Before.PieceAt(lost)
	if !ok || p.Side != r.Color {
		return Event{}, false
	}
	defenders := m.Before.Defenders(lost)
	if len(defenders) != 1 || defenders[0] != from {
		return Event{}, false
	}
	ev := newEvent(Hang, SubHangMovedDefender, c.conf("hang_moved_defender"), r)
	ev.Meta = map[string]string{
		"lost_piece_type":        p.Kind.String(),
		"lost_square":            position.SquareName(lost),
		"defender_square":        position.SquareName(from),
		"captured_by_piece_type": pieceName(steps[0].facts.Piece),
	}
	return ev, true
}

func hangPinned(c *Config, m *Move) (Event, bool) {
	r := m.Record
	if m.Before == nil || r.CPL < c.HangCPL {
		return Event{}, false
	}
	from := squareOf(r.Played, false)
	pin, ok := m.Before.PinOf(from)
	if !ok || pin.Piece.Side != r.Color {
		return Event{}, false
	}
	steps := walkLine(r.After, r.ReplyLine, r.Color, 3)
	mates := r.EvalAfter.MateAgainst() && r.EvalAfter.Plies <= 3
	if materialAt(steps, 3) >= 0 && !mates {
		return Event{}, false
	}
	conf := c.conf("hang_pinned.practical")
	if pin.Kind == board.AbsolutePin {
		conf = c.conf("hang_pinned.absolute")
	}
	ev := newEvent(Hang, SubHangPinned, conf, r)
	ev.Meta = map[string]string{
		"pin":           pin.Kind.String(),
		"pinned_square": position.SquareName(pin.Square),
		"pinner_square": position.SquareName(pin.Pinner),
		"target_square": position.SquareName(pin.Target),
	}
	return ev, true
}

// heldGain returns the 1-based ply from which the player's material gain
// stays at or above points until the end of steps, or 0.
func heldGain(steps []step, points int) int {
	ply := 0
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].material < points {
			break
		}
		ply = i + 1
	}
	return ply
}

// forks reports the opponent queens, rooks and king a knight landing on to
// would attack.
func forks(ctx *board.Context, to int, player board.Side) []string {
	var targets []string
	for _, sq := range board.KnightTargets(to) {
		p, ok := ctx.PieceAt(sq)
		if !ok || p.Side == player {
			continue
		}
		switch p.Kind {
		case board.Queen, board.Rook, board.King:
			targets = append(targets, position.SquareName(sq))
		}
	}
	return targets
}

func missedForcing(c *Config, m *Move) (Event, bool) {
	r := m.Record
	if r.BestMove == "" || r.PlayedBest() || r.CPL < c.MissedCPL {
		return Event{}, false
	}
	facts, err := r.Before.Describe(r.BestMove)
	if err != nil || !facts.Forcing() {
		return Event{}, false
	}
	steps := walkLine(r.Before, r.BestLine, r.Color, c.MissedWithin)
	win := heldGain(steps, 1)
	if r.EvalBest.MateFor() && r.EvalBest.Plies <= c.MissedWithin && (win == 0 || r.EvalBest.Plies < win) {
		win = r.EvalBest.Plies
	}
	if win == 0 {
		return Event{}, false
	}

	conf := c.conf("missed_forcing.slow")
	if win <= c.MissedFast {
		conf = c.conf("missed_forcing.fast")
	}
	meta := map[string]string{"win_within_plies": strconv.Itoa(win)}
	var sub string
	var targets []string
	if facts.Piece == 'N' && m.Before != nil {
		targets = forks(m.Before, squareOf(r.BestMove, true), r.Color)
	}
	switch {
	case len(targets) >= 2:
		sub = SubKnightFork
		conf = c.conf("missed_forcing.fork")
		meta["knight_to"] = r.BestMove[2:4]
		meta["targets"] = strings.Join(targets, ",")
	case facts.Check:
		sub = SubMissedCheck
		meta["check_move"] = r.BestMove
	default:
		sub = SubMissedCapture
		meta["capture_square"] = r.BestMove[2:4]
		meta["captured_piece_type"] = pieceName(facts.Captured)
	}
	if r.EvalBest.MateFor() {
		meta["mate_in_plies"] = strconv.Itoa(r.EvalBest.Plies)
	}
	ev := newEvent(MissedForcing, sub, conf, r)
	ev.Meta = meta
	return ev, true
}

func ignoredThreat(c *Config, m *Move) (Event, bool) {
	r := m.Record
	if r.CPL < c.ThreatCPL || len(r.ReplyLine) == 0 {
		return Event{}, false
	}
	reply, err := r.After.Describe(r.ReplyLine[0])
	if err != nil || !reply.Forcing() {
		return Event{}, false
	}
	conf := c.conf("ignored_threat.other")
	meta := map[string]string{}
	if r.EvalAfter.MateAgainst() {
		conf = c.conf("ignored_threat.mate")
		meta["mate_in_plies"] = strconv.Itoa(r.EvalAfter.Plies)
	}
	sub := SubAllowedCapture
	if reply.Check {
		sub = SubAllowedCheck
		meta["first_check_move"] = reply.UCI
	} else {
		meta["captured_square"] = reply.UCI[2:4]
		meta["captured_piece_type"] = pieceName(reply.Captured)
	}
	ev := newEvent(IgnoredThreat, sub, conf, r)
	ev.Meta = meta
	return ev, true
}

func allowedMateThreat(c *Config, m *Move) (Event, bool) {
	r := m.Record
	if !r.Flags.AllowedMate || !r.EvalAfter.MateAgainst() || r.EvalAfter.Plies > c.MateThreatPlies {
		return Event{}, false
	}
	ev := newEvent(AllowedMateThreat, "", c.conf("allowed_mate_threat"), r)
	ev.Meta = map[string]string{"mate_in_plies": strconv.Itoa(r.EvalAfter.Plies)}
	return ev, true
}

// homeMinors maps a side's undeveloped minor piece squares to their kind.
var homeMinors = [2]map[int]board.Kind{
	board.White: {1: board.Knight, 6: board.Knight, 2: board.Bishop, 5: board.Bishop},
	board.Black: {57: board.Knight, 62: board.Knight, 58: board.Bishop, 61: board.Bishop},
}

// openingPrinciples reports each broken opening habit as its own event.
func openingPrinciples(c *Config, m *Move) []Event {
	r := m.Record
	if r.MoveNumber < 1 || r.MoveNumber > 12 {
		return nil
	}
	facts, err := r.Before.Describe(r.Played)
	if err != nil {
		return nil
	}
	var flags []string
	if facts.Piece == 'Q' && r.MoveNumber < 6 {
		flags = append(flags, SubEarlyQueen)
	}
	var history []game.Ply // the game up to and including this move
	if m.Game != nil && r.Ply < len(m.Game.Plies) {
		history = m.Game.Plies[:r.Ply+1]
	}
	if len(history) > 0 && r.MoveNumber <= 8 && !facts.IsCapture() && facts.Piece != 'P' && facts.Piece != 'K' {
		from := r.Played[0:2]
		for _, p := range history[:len(history)-1] {
			if p.Mover == r.Color && len(p.UCI) >= 4 && p.UCI[2:4] == from {
				flags = append(flags, SubRepeatedPiece)
				break
			}
		}
	}
	if len(history) > 0 && r.MoveNumber == 12 {
		castled := false
		for _, p := range history {
			if p.Mover == r.Color && strings.HasPrefix(p.SAN, "O-O") {
				castled = true
				break
			}
		}
		if !castled && (m.After == nil || !m.After.KingCommitted(r.Color)) {
			flags = append(flags, SubNoCastle)
		}
	}
	if m.Before != nil && r.MoveNumber == 8 {
		home := 0
		for sq, kind := range homeMinors[r.Color] {
			if p, ok := m.Before.PieceAt(sq); ok && p.Side == r.Color && p.Kind == kind {
				home++
			}
		}
		if home >= 2 {
			flags = append(flags, SubUnderdeveloped)
		}
	}
	conf := c.conf("opening_principles.noharm")
	if r.CPL >= c.HarmCPL {
		conf = c.conf("opening_principles.harm")
	}
	var events []Event
	for _, f := range flags {
		ev := newEvent(OpeningPrinciples, f, conf, r)
		ev.Meta = map[string]string{"flags": strings.Join(flags, ",")}
		events = append(events, ev)
	}
	return events
}

func kingSafety(c *Config, m *Move) (Event, bool) {
	r := m.Record
	if m.Before == nil || !m.Before.KingCommitted(r.Color) {
		return Event{}, false
	}
	from := squareOf(r.Played, false)
	p, ok := m.Before.PieceAt(from)
	if !ok || p.Kind != board.Pawn {
		return Event{}, false
	}
	k := m.Before.KingSquare(r.Color)
	if abs(from%8-k%8) > 1 || abs(from/8-k/8) > 2 {
		return Event{}, false
	}

	steps := walkLine(r.After, r.ReplyLine, r.Color, 6)
	immediate := len(steps) > 0 && steps[0].facts.Check
	checks := 0
	for _, s := range steps {
		if s.mover != r.Color && s.facts.Check {
			checks++
		}
	}
	if r.CPL < c.KingSafetyCPL && checks == 0 {
		return Event{}, false
	}
	conf := c.conf("king_safety.other")
	if immediate {
		conf = c.conf("king_safety.checks")
	}
	ev := newEvent(KingSafety, "", conf, r)
	ev.Meta = map[string]string{
		"king_square":   position.SquareName(k),
		"pawn_square":   position.SquareName(from),
		"shield_before": strconv.Itoa(m.Before.PawnShield(r.Color)),
		"checks_in_pv":  strconv.Itoa(checks),
	}
	return ev, true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
