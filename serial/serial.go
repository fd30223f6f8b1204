// Package serial implements the plan/execute handoff wire format: a
// self-describing, line-oriented "Type(field=value,...)"
// record grammar, so a resolve can run in one process and be applied by
// another reading the stream off the file descriptor named by
// PALUDIS_SERIALISED_RESOLUTION_FD.
package serial

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/exherbo-go/cave"
)

// EnvFD is the environment variable naming the file descriptor the
// executor reads a serialised ResolverLists from.
const EnvFD = "PALUDIS_SERIALISED_RESOLUTION_FD"

// record is one "Type(k=v,...)" line, already split into its head and
// ordered field list.
type record struct {
	typ    string
	fields []field
}

type field struct {
	key, val string
}

func (r record) get(key string) (string, bool) {
	for _, f := range r.fields {
		if f.key == key {
			return f.val, true
		}
	}
	return "", false
}

func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

func unquote(s string) (string, error) {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return "", errors.Errorf("malformed quoted field %q", s)
	}
	var b strings.Builder
	body := s[1 : len(s)-1]
	for i := 0; i < len(body); i++ {
		if body[i] == '\\' && i+1 < len(body) {
			i++
		}
		b.WriteByte(body[i])
	}
	return b.String(), nil
}

func writeRecord(w *bufio.Writer, typ string, fields ...field) error {
	if _, err := w.WriteString(typ); err != nil {
		return err
	}
	if _, err := w.WriteString("("); err != nil {
		return err
	}
	for i, f := range fields {
		if i > 0 {
			if _, err := w.WriteString(","); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s=%s", f.key, quote(f.val)); err != nil {
			return err
		}
	}
	_, err := w.WriteString(")\n")
	return err
}

func parseRecord(line string) (record, error) {
	open := strings.IndexByte(line, '(')
	if open < 0 || !strings.HasSuffix(line, ")") {
		return record{}, errors.Errorf("malformed record %q", line)
	}
	typ := line[:open]
	body := line[open+1 : len(line)-1]
	r := record{typ: typ}
	if body == "" {
		return r, nil
	}
	for _, part := range splitFields(body) {
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			return record{}, errors.Errorf("malformed field %q in %q", part, line)
		}
		val, err := unquote(part[eq+1:])
		if err != nil {
			return record{}, err
		}
		r.fields = append(r.fields, field{key: part[:eq], val: val})
	}
	return r, nil
}

// splitFields splits a record body on top-level commas, respecting
// quoted strings so a comma inside a quoted value is not a delimiter.
func splitFields(body string) []string {
	var out []string
	inQuote := false
	start := 0
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '"':
			if i == 0 || body[i-1] != '\\' {
				inQuote = !inQuote
			}
		case ',':
			if !inQuote {
				out = append(out, body[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, body[start:])
	return out
}

// Serialise writes lists to w: for each job in id order, a Job record
// (id, kind, resolvent, name, and, where present, chosen id and ids to
// remove) followed by that job's Arrow records; then the taken/untaken/
// error id lists. It does not write lists.All, the constraints or reasons
// behind decisions, or any other Resolution field.
func Serialise(w io.Writer, lists *cave.ResolverLists) error {
	bw := bufio.NewWriter(w)

	for id := 0; id < len(lists.Jobs); id++ {
		job, ok := lists.Jobs[cave.JobId(id)]
		if !ok {
			continue
		}
		fields := []field{
			{"id", strconv.Itoa(int(job.ID))},
			{"kind", job.Kind.String()},
			{"resolvent", job.Resolution.Resolvent.String()},
			{"name", job.Name},
		}
		if chosen := job.Resolution.Decision.ChosenID(); chosen != nil {
			fields = append(fields, field{"chosen", chosen.Canonical()})
		}
		if remove := job.Resolution.Decision.ToRemove; len(remove) > 0 {
			parts := make([]string, len(remove))
			for i, r := range remove {
				parts[i] = r.Canonical()
			}
			fields = append(fields, field{"remove", strings.Join(parts, " ")})
		}
		if err := writeRecord(bw, "Job", fields...); err != nil {
			return err
		}
		for _, a := range job.Arrows {
			if err := writeRecord(bw, "Arrow",
				field{"to", strconv.Itoa(int(job.ID))},
				field{"from", strconv.Itoa(int(a.From))},
				field{"kind", a.Kind.String()},
			); err != nil {
				return err
			}
		}
	}

	if err := writeRecord(bw, "Taken", field{"ids", joinIDs(lists.Taken)}); err != nil {
		return err
	}
	if err := writeRecord(bw, "Untaken", field{"ids", joinIDs(lists.Untaken)}); err != nil {
		return err
	}
	if err := writeRecord(bw, "TakenErrors", field{"ids", joinIDs(lists.TakenErrors)}); err != nil {
		return err
	}
	return bw.Flush()
}

func joinIDs(ids []cave.JobId) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(int(id))
	}
	return strings.Join(parts, ",")
}

func parseIDs(s string) ([]cave.JobId, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]cave.JobId, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing job id list %q", s)
		}
		out[i] = cave.JobId(n)
	}
	return out, nil
}

// Deserialise reads a stream written by Serialise and reconstructs a
// ResolverLists, re-looking-up every chosen id's canonical form against
// universe. Ids never cross the process boundary as pointers, only as
// canonical strings.
func Deserialise(r io.Reader, universe cave.PackageUniverse) (*cave.ResolverLists, error) {
	lists := &cave.ResolverLists{Jobs: map[cave.JobId]*cave.Job{}}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		rec, err := parseRecord(line)
		if err != nil {
			return nil, err
		}
		switch rec.typ {
		case "Job":
			job, err := jobFromRecord(rec, universe)
			if err != nil {
				return nil, err
			}
			lists.Jobs[job.ID] = job

		case "Arrow":
			toS, _ := rec.get("to")
			fromS, _ := rec.get("from")
			kindS, _ := rec.get("kind")
			to, err := strconv.Atoi(toS)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing arrow target %q", toS)
			}
			from, err := strconv.Atoi(fromS)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing arrow source %q", fromS)
			}
			job, ok := lists.Jobs[cave.JobId(to)]
			if !ok {
				return nil, errors.Errorf("arrow refers to unknown job %d", to)
			}
			job.Arrows = append(job.Arrows, cave.Arrow{From: cave.JobId(from), Kind: arrowKindFromString(kindS)})

		case "Taken":
			idsS, _ := rec.get("ids")
			lists.Taken, err = parseIDs(idsS)
			if err != nil {
				return nil, err
			}

		case "Untaken":
			idsS, _ := rec.get("ids")
			lists.Untaken, err = parseIDs(idsS)
			if err != nil {
				return nil, err
			}

		case "TakenErrors":
			idsS, _ := rec.get("ids")
			lists.TakenErrors, err = parseIDs(idsS)
			if err != nil {
				return nil, err
			}

		default:
			return nil, errors.Errorf("unknown record type %q", rec.typ)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading serialised resolution stream")
	}
	return lists, nil
}

func jobFromRecord(rec record, universe cave.PackageUniverse) (*cave.Job, error) {
	idS, _ := rec.get("id")
	id, err := strconv.Atoi(idS)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing job id %q", idS)
	}
	kindS, _ := rec.get("kind")
	name, _ := rec.get("name")

	job := &cave.Job{ID: cave.JobId(id), Kind: jobKindFromString(kindS), Name: name}

	if chosenS, ok := rec.get("chosen"); ok && chosenS != "" {
		chosen, err := LookupCanonical(universe, chosenS)
		if err != nil {
			return nil, err
		}
		job.Resolution.Decision.Kind = cave.DecisionChangesToMake
		job.Resolution.Decision.OriginID = chosen
	}
	if removeS, ok := rec.get("remove"); ok && removeS != "" {
		for _, canonical := range strings.Fields(removeS) {
			id, err := LookupCanonical(universe, canonical)
			if err != nil {
				return nil, err
			}
			job.Resolution.Decision.Kind = cave.DecisionRemove
			job.Resolution.Decision.ToRemove = append(job.Resolution.Decision.ToRemove, id)
		}
	}
	return job, nil
}

// LookupCanonical reconstructs a *cave.PackageId from its canonical
// "cat/pkg-ver[:slot][::repo]" text by scanning universe for a matching
// id.
func LookupCanonical(universe cave.PackageUniverse, canonical string) (*cave.PackageId, error) {
	for _, cat := range universe.Categories() {
		for _, pkg := range universe.Packages(cat) {
			qn := cave.QualifiedPackageName{Category: cat, Package: pkg}
			ids, err := universe.IdsForPackage(qn)
			if err != nil {
				return nil, err
			}
			for _, id := range ids {
				if id.Canonical() == canonical {
					return id, nil
				}
			}
		}
	}
	return nil, errors.Errorf("no package in the universe has canonical form %q", canonical)
}

func jobKindFromString(s string) cave.JobKind {
	for k := cave.JobFetch; k <= cave.JobUninstall; k++ {
		if k.String() == s {
			return k
		}
	}
	return cave.JobFetch
}

func arrowKindFromString(s string) cave.ArrowKind {
	for k := cave.ArrowBuild; k <= cave.ArrowPost; k++ {
		if k.String() == s {
			return k
		}
	}
	return cave.ArrowBuild
}
