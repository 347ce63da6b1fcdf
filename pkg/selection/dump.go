package selection

import (
	"fmt"
	"io"
	"strings"
)

// NoTag is how an untagged link is written in a setup script
const NoTag = "NONE"

// DumpSetup renders the current configuration as a psu command script
func (e *Engine) DumpSetup() string {
	var sb strings.Builder
	_ = e.Snapshot().WriteSetup(&sb)
	return sb.String()
}

// WriteSetup writes the snapshot as a psu command script. Loading the script
// into an empty engine reproduces the configuration; runtime pool state
// (active flag, reported mode, HSM instances) is not part of it.
func (s *Snapshot) WriteSetup(w io.Writer) error {
	sw := &setupWriter{w: w}

	sw.section("Pool selection setup")
	sw.line("psu set allpoolsactive %s", onOff(s.g.allPoolsActive))

	sw.section("The units ...")
	for _, u := range s.Units() {
		sw.line("psu create unit -%s %s", u.kind, u.name)
	}

	sw.section("The unit groups ...")
	for _, ug := range s.UnitGroups() {
		sw.line("psu create ugroup %s", ug.name)
		for _, name := range ug.units {
			sw.line("psu addto ugroup %s %s", ug.name, name)
		}
	}

	sw.section("The pools ...")
	for _, p := range s.Pools() {
		opts := ""
		if !p.ping {
			opts += " -noping"
		}
		if !p.enabled {
			opts += " -disabled"
		}
		sw.line("psu create pool %s%s", p.name, opts)
		if p.readOnly {
			sw.line("psu set pool %s rdonly", p.name)
		}
	}

	sw.section("The pool groups ...")
	for _, pg := range s.PoolGroups() {
		sw.line("psu create pgroup %s", pg.name)
		for _, name := range pg.pools {
			sw.line("psu addto pgroup %s %s", pg.name, name)
		}
	}

	sw.section("The links ...")
	for _, l := range s.Links() {
		if len(l.ugroups) > 0 {
			sw.line("psu create link %s %s", l.name, strings.Join(l.ugroups, " "))
		} else {
			sw.line("psu create link %s", l.name)
		}
		tag := l.tag
		if tag == "" {
			tag = NoTag
		}
		sw.line("psu set link %s -readpref=%d -writepref=%d -cachepref=%d -p2ppref=%d -section=%s",
			l.name, l.prefs.Read, l.prefs.Write, l.prefs.Cache, l.prefs.P2P, tag)
		for _, name := range l.pools {
			sw.line("psu add link %s %s", l.name, name)
		}
		for _, name := range l.pgroups {
			sw.line("psu add link %s %s", l.name, name)
		}
	}

	sw.section("The link groups ...")
	for _, lg := range s.LinkGroups() {
		sw.line("psu create linkGroup %s", lg.name)
		policy := lg.policy
		sw.line("psu set linkGroup %s %s %t", FlagCustodial, lg.name, policy.Custodial)
		sw.line("psu set linkGroup %s %s %t", FlagOutput, lg.name, policy.Output)
		sw.line("psu set linkGroup %s %s %t", FlagReplica, lg.name, policy.Replica)
		sw.line("psu set linkGroup %s %s %t", FlagOnline, lg.name, policy.Online)
		if policy.NearlineExplicit() {
			sw.line("psu set linkGroup %s %s %t", FlagNearline, lg.name, policy.Nearline())
		}
		for _, name := range lg.links {
			sw.line("psu addto linkGroup %s %s", lg.name, name)
		}
	}

	return sw.err
}

type setupWriter struct {
	w   io.Writer
	err error
}

func (sw *setupWriter) line(format string, args ...any) {
	if sw.err != nil {
		return
	}
	_, sw.err = fmt.Fprintf(sw.w, format+"\n", args...)
}

func (sw *setupWriter) section(title string) {
	sw.line("#")
	sw.line("# %s", title)
	sw.line("#")
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
