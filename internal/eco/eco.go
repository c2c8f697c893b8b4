// Package eco names openings from ECO tables ("eco<TAB>name<TAB>moves").
package eco

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/freeeve/weakscan/internal/position"
)

// Opening is one named ECO line.
type Opening struct {
	ECO  string `json:"eco"`
	Name string `json:"name"`
	Ply  int    `json:"ply"` // length of the defining line
}

// Family is the name up to the first colon ("Sicilian Defense: Najdorf"
// gives "Sicilian Defense").
func (o Opening) Family() string {
	name, _, _ := strings.Cut(o.Name, ":")
	return strings.TrimSpace(name)
}

// Database maps canonical positions to openings. When two lines reach the
// same position the shorter one names it.
type Database struct {
	byPosition map[string]Opening
	skipped    int
}

func NewDatabase() *Database {
	return &Database{byPosition: make(map[string]Opening)}
}

// LoadDir loads every .tsv file in dir.
func (db *Database) LoadDir(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.tsv"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no .tsv files in %s", dir)
	}
	for _, file := range files {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = db.Load(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// Load reads one table. Rows whose moves do not replay are counted as
// skipped.
func (db *Database) Load(r io.Reader) error {
	sc := bufio.NewScanner(r)
	for first := true; sc.Scan(); first = false {
		fields := strings.SplitN(sc.Text(), "\t", 3)
		if len(fields) != 3 || (first && fields[0] == "eco") {
			continue
		}
		pos, ply, err := replay(fields[2])
		if err != nil {
			db.skipped++
			continue
		}
		o := Opening{ECO: fields[0], Name: fields[1], Ply: ply}
		if prev, ok := db.byPosition[pos.Canonical()]; ok && prev.Ply <= ply {
			continue
		}
		db.byPosition[pos.Canonical()] = o
	}
	return sc.Err()
}

// replay plays a movetext such as "1. e4 e5 2.Nf3" from the start.
func replay(movetext string) (position.Position, int, error) {
	pos := position.Start()
	ply := 0
	for _, tok := range strings.Fields(movetext) {
		// drop move numbers, glued or not ("2." "2...Nf6" "2.Nf3")
		if i := strings.LastIndex(tok, "."); i >= 0 {
			tok = tok[i+1:]
		}
		if tok == "" || tok[0] == '$' || tok[0] == '{' {
			continue
		}
		uci, err := pos.ParseSAN(tok)
		if err != nil {
			return position.Position{}, 0, err
		}
		if pos, err = pos.Play(uci); err != nil {
			return position.Position{}, 0, err
		}
		ply++
	}
	return pos, ply, nil
}

// Lookup returns the opening named for exactly this position.
func (db *Database) Lookup(pos position.Position) (Opening, bool) {
	o, ok := db.byPosition[pos.Canonical()]
	return o, ok
}

// Classify names a game by the deepest of its positions found in the table.
func (db *Database) Classify(positions []position.Position) (Opening, bool) {
	for i := len(positions) - 1; i >= 0; i-- {
		if o, ok := db.Lookup(positions[i]); ok {
			return o, true
		}
	}
	return Opening{}, false
}

// Count is the number of named positions.
func (db *Database) Count() int { return len(db.byPosition) }

// Skipped is the number of rows that did not replay.
func (db *Database) Skipped() int { return db.skipped }
