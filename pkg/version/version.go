package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Set at build time, e.g.
// -ldflags "-X github.com/lkarlslund/msgrelay/pkg/version.Version=v1.2.3"
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

type Info struct {
	Version string
	Commit  string
	Date    string
	Dirty   bool
	Go      string
}

func Current() Info {
	info := Info{
		Version: strings.TrimSpace(Version),
		Commit:  strings.TrimSpace(Commit),
		Date:    strings.TrimSpace(Date),
		Go:      runtime.Version(),
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	// Fall back to VCS stamps when ldflags were not provided.
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "" {
					info.Commit = s.Value
				}
			case "vcs.time":
				if info.Date == "" {
					info.Date = s.Value
				}
			case "vcs.modified":
				info.Dirty = s.Value == "true"
			}
		}
	}
	return info
}

func (i Info) String() string {
	out := i.Version
	if i.Commit != "" {
		short := i.Commit
		if len(short) > 12 {
			short = short[:12]
		}
		out += "+" + short
	}
	if i.Dirty {
		out += "+dirty"
	}
	return out
}

func String() string {
	return Current().String()
}

func Detailed(component string) string {
	i := Current()
	out := fmt.Sprintf("%s %s (%s)", component, i.String(), i.Go)
	if i.Date != "" {
		out += "\nBuilt: " + i.Date
	}
	return out
}
