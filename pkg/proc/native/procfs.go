package native

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/memctl/memctl/pkg/proc"
)

// parseMaps builds the module list from the contents of /proc/<pid>/maps.
// Every file backed mapping contributes to the module of its path, the
// module spans from its lowest to its highest mapped address.
func parseMaps(r io.Reader) ([]proc.Module, error) {
	var mods []proc.Module
	idx := map[string]int{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 6 {
			continue
		}
		path := strings.Join(fields[5:], " ")
		if !strings.HasPrefix(path, "/") {
			continue
		}
		path = strings.TrimSuffix(path, " (deleted)")
		startStr, endStr, ok := strings.Cut(fields[0], "-")
		if !ok {
			return nil, fmt.Errorf("malformed maps line %q", sc.Text())
		}
		start, err := strconv.ParseUint(startStr, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed maps line %q: %v", sc.Text(), err)
		}
		end, err := strconv.ParseUint(endStr, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed maps line %q: %v", sc.Text(), err)
		}
		i, seen := idx[path]
		if !seen {
			idx[path] = len(mods)
			mods = append(mods, proc.Module{
				Name: filepath.Base(path),
				Path: path,
				Base: proc.Address(start),
				Size: end - start,
			})
			continue
		}
		m := &mods[i]
		top := uint64(m.Base) + m.Size
		if start < uint64(m.Base) {
			m.Base = proc.Address(start)
		}
		if end > top {
			top = end
		}
		m.Size = top - uint64(m.Base)
	}
	return mods, sc.Err()
}

// procStat holds the fields of /proc/<pid>/stat we care about.
type procStat struct {
	comm      string
	state     byte
	startTime uint64
}

// parseStat parses /proc/<pid>/stat. The command name is enclosed in
// parentheses and may itself contain spaces and parentheses, so the
// remaining fields are located from the last ')'.
func parseStat(buf []byte) (procStat, error) {
	open := bytes.IndexByte(buf, '(')
	rp := bytes.LastIndexByte(buf, ')')
	if open < 0 || rp < open {
		return procStat{}, fmt.Errorf("malformed stat %q", buf)
	}
	st := procStat{comm: string(buf[open+1 : rp])}
	rest := strings.Fields(string(buf[rp+1:]))
	// rest[0] is field 3 (state), rest[19] is field 22 (starttime).
	if len(rest) < 20 {
		return procStat{}, fmt.Errorf("malformed stat %q", buf)
	}
	st.state = rest[0][0]
	start, err := strconv.ParseUint(rest[19], 10, 64)
	if err != nil {
		return procStat{}, fmt.Errorf("malformed stat %q: %v", buf, err)
	}
	st.startTime = start
	return st, nil
}

// isProcDir reports whether name is a numeric /proc entry.
func isProcDir(name string) bool {
	if name == "" {
		return false
	}
	for _, ch := range name {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}
