package game

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

var (
	clockRegex = regexp.MustCompile(`\[%clk\s+(\d+):(\d+):(\d+(?:\.\d+)?)\]`)
	tagRegex   = regexp.MustCompile(`^\[(\w+)\s+"(.*)"\]\s*$`)
	moveNumber = regexp.MustCompile(`^\d+\.+`)
)

// tagKeyFields identify a game across the move parser and the clock scan.
var tagKeyFields = []string{"Site", "White", "Black", "Date", "UTCTime", "Round"}

func tagKey(tags map[string]string) string {
	var sb strings.Builder
	for _, k := range tagKeyFields {
		sb.WriteString(tags[k])
		sb.WriteByte('|')
	}
	return sb.String()
}

// clockSlot is the clock after one mainline move; ok is false when the move
// had no %clk comment.
type clockSlot struct {
	d  time.Duration
	ok bool
}

// parseClock reads the first %clk annotation of a comment.
func parseClock(comment string) (time.Duration, bool) {
	m := clockRegex.FindStringSubmatch(comment)
	if m == nil {
		return 0, false
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	s, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, false
	}
	secs := float64(h*3600+mi*60) + s
	return time.Duration(secs * float64(time.Second)), true
}

// movetextClocks walks PGN movetext and returns one slot per mainline move.
// Variations, NAGs, move numbers and the result token are skipped.
func movetextClocks(text string) []clockSlot {
	var slots []clockSlot
	depth := 0
	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case c == '{':
			end := strings.IndexByte(text[i:], '}')
			if end < 0 {
				end = len(text) - i - 1
			}
			if depth == 0 && len(slots) > 0 {
				if d, ok := parseClock(text[i : i+end+1]); ok {
					slots[len(slots)-1] = clockSlot{d: d, ok: true}
				}
			}
			i += end + 1
		case c == ';':
			end := strings.IndexByte(text[i:], '\n')
			if end < 0 {
				return slots
			}
			i += end + 1
		case c == '(':
			depth++
			i++
		case c == ')':
			if depth > 0 {
				depth--
			}
			i++
		case c == ' ' || c == '\n' || c == '\r' || c == '\t':
			i++
		default:
			j := i
			for j < len(text) && !strings.ContainsRune(" \n\r\t{}();", rune(text[j])) {
				j++
			}
			tok := moveNumber.ReplaceAllString(text[i:j], "")
			i = j
			if depth > 0 || tok == "" || tok[0] == '$' {
				continue
			}
			switch tok {
			case "1-0", "0-1", "1/2-1/2", "*":
				continue
			}
			slots = append(slots, clockSlot{})
		}
	}
	return slots
}

// openPGN opens a .pgn or .pgn.zst file for reading.
func openPGN(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".zst") {
		return f, nil
	}
	zr, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
	if err != nil {
		f.Close()
		return nil, err
	}
	return &zstdFile{Decoder: zr, f: f}, nil
}

type zstdFile struct {
	*zstd.Decoder
	f *os.File
}

func (z *zstdFile) Close() error {
	z.Decoder.Close()
	return z.f.Close()
}

// clockIndex maps a tag key to the clock slots of each game with that key,
// in file order.
type clockIndex map[string][][]clockSlot

// take pops the next clock list for a game.
func (ix clockIndex) take(tags map[string]string) []clockSlot {
	k := tagKey(tags)
	lists := ix[k]
	if len(lists) == 0 {
		return nil
	}
	ix[k] = lists[1:]
	return lists[0]
}

// scanClocks reads the raw PGN text of a file and indexes every game's
// clock annotations. A truncated file yields the games read so far.
func scanClocks(r io.Reader) clockIndex {
	ix := make(clockIndex)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	tags := map[string]string{}
	var moves strings.Builder
	inMoves := false
	flush := func() {
		if len(tags) > 0 || moves.Len() > 0 {
			k := tagKey(tags)
			ix[k] = append(ix[k], movetextClocks(moves.String()))
		}
		tags = map[string]string{}
		moves.Reset()
		inMoves = false
	}

	for sc.Scan() {
		line := sc.Text()
		if m := tagRegex.FindStringSubmatch(line); m != nil {
			if inMoves {
				flush()
			}
			tags[m[1]] = m[2]
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		inMoves = true
		moves.WriteString(line)
		moves.WriteByte('\n')
	}
	flush()
	return ix
}
