package command

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"poolselect/pkg/selection"
)

type verb struct {
	minArgs int
	maxArgs int // -1 for no limit
	options []string
	usage   string
	apply   func(tx *selection.Tx, c *Command) error
}

var unitKinds = []string{"store", "net", "protocol", "dcache"}

var verbs = map[string]verb{
	"create unit": {1, 1, unitKinds, "create unit -store|-net|-protocol|-dcache <name>", createUnit},
	"remove unit": {1, 1, unitKinds, "remove unit <name>", func(tx *selection.Tx, c *Command) error {
		return tx.RemoveUnit(c.Args[0])
	}},
	"create ugroup": {1, 1, nil, "create ugroup <group>", func(tx *selection.Tx, c *Command) error {
		return tx.CreateUnitGroup(c.Args[0])
	}},
	"remove ugroup": {1, 1, nil, "remove ugroup <group>", func(tx *selection.Tx, c *Command) error {
		return tx.RemoveUnitGroup(c.Args[0])
	}},
	"addto ugroup": {2, 2, unitKinds, "addto ugroup <group> <unit>", func(tx *selection.Tx, c *Command) error {
		return tx.AddToUnitGroup(c.Args[0], c.Args[1])
	}},
	"removefrom ugroup": {2, 2, unitKinds, "removefrom ugroup <group> <unit>", func(tx *selection.Tx, c *Command) error {
		return tx.RemoveFromUnitGroup(c.Args[0], c.Args[1])
	}},

	"create pool": {1, 1, []string{"noping", "disabled"}, "create pool <pool> [-noping] [-disabled]", func(tx *selection.Tx, c *Command) error {
		return tx.CreatePool(c.Args[0], selection.PoolOptions{NoPing: c.Has("noping"), Disabled: c.Has("disabled")})
	}},
	"remove pool": {1, 1, nil, "remove pool <pool>", func(tx *selection.Tx, c *Command) error {
		return tx.RemovePool(c.Args[0])
	}},
	"set pool": {2, 2, nil, "set pool <glob> enabled|disabled|ping|noping|rdonly|notrdonly", func(tx *selection.Tx, c *Command) error {
		_, err := tx.SetPool(c.Args[0], c.Args[1])
		return err
	}},
	"set enabled": {1, 1, nil, "set enabled <glob>", func(tx *selection.Tx, c *Command) error {
		_, err := tx.SetPoolEnabled(c.Args[0], true)
		return err
	}},
	"set disabled": {1, 1, nil, "set disabled <glob>", func(tx *selection.Tx, c *Command) error {
		_, err := tx.SetPoolEnabled(c.Args[0], false)
		return err
	}},
	"set active": {1, 1, []string{"no"}, "set active <glob> [-no]", func(tx *selection.Tx, c *Command) error {
		_, err := tx.SetPoolActive(c.Args[0], !c.Has("no"))
		return err
	}},

	"create pgroup": {1, 1, nil, "create pgroup <group>", func(tx *selection.Tx, c *Command) error {
		return tx.CreatePoolGroup(c.Args[0])
	}},
	"remove pgroup": {1, 1, nil, "remove pgroup <group>", func(tx *selection.Tx, c *Command) error {
		return tx.RemovePoolGroup(c.Args[0])
	}},
	"addto pgroup": {2, 2, nil, "addto pgroup <group> <pool>", func(tx *selection.Tx, c *Command) error {
		return tx.AddToPoolGroup(c.Args[0], c.Args[1])
	}},
	"removefrom pgroup": {2, 2, nil, "removefrom pgroup <group> <pool>", func(tx *selection.Tx, c *Command) error {
		return tx.RemoveFromPoolGroup(c.Args[0], c.Args[1])
	}},

	"create link": {1, -1, nil, "create link <link> <ugroup>...", func(tx *selection.Tx, c *Command) error {
		return tx.CreateLink(c.Args[0], c.Args[1:]...)
	}},
	"remove link": {1, 1, nil, "remove link <link>", func(tx *selection.Tx, c *Command) error {
		return tx.RemoveLink(c.Args[0])
	}},
	"addto link": {2, 2, nil, "addto link <link> <ugroup>", func(tx *selection.Tx, c *Command) error {
		return tx.AddToLink(c.Args[0], c.Args[1])
	}},
	"removefrom link": {2, 2, nil, "removefrom link <link> <ugroup>", func(tx *selection.Tx, c *Command) error {
		return tx.RemoveFromLink(c.Args[0], c.Args[1])
	}},
	"add link": {2, 2, nil, "add link <link> <pool>|<pgroup>", func(tx *selection.Tx, c *Command) error {
		return tx.AddLinkTarget(c.Args[0], c.Args[1])
	}},
	"unlink": {2, 2, nil, "unlink <link> <pool>|<pgroup>", func(tx *selection.Tx, c *Command) error {
		return tx.Unlink(c.Args[0], c.Args[1])
	}},
	"set link": {1, 1, []string{"readpref", "writepref", "cachepref", "p2ppref", "pref", "section"},
		"set link <link> [-readpref=N] [-writepref=N] [-cachepref=N] [-p2ppref=N] [-pref=N] [-section=TAG|NONE]", setLink},

	"create linkGroup": {1, 1, nil, "create linkGroup <group>", func(tx *selection.Tx, c *Command) error {
		return tx.CreateLinkGroup(c.Args[0])
	}},
	"remove linkGroup": {1, 1, nil, "remove linkGroup <group>", func(tx *selection.Tx, c *Command) error {
		return tx.RemoveLinkGroup(c.Args[0])
	}},
	"addto linkGroup": {2, 2, nil, "addto linkGroup <group> <link>", func(tx *selection.Tx, c *Command) error {
		return tx.AddToLinkGroup(c.Args[0], c.Args[1])
	}},
	"removefrom linkGroup": {2, 2, nil, "removefrom linkGroup <group> <link>", func(tx *selection.Tx, c *Command) error {
		return tx.RemoveFromLinkGroup(c.Args[0], c.Args[1])
	}},
	"set linkGroup": {3, 3, nil, "set linkGroup <flag> <group> true|false", func(tx *selection.Tx, c *Command) error {
		allowed, err := strconv.ParseBool(c.Args[2])
		if err != nil {
			return syntaxf(c, "set linkGroup: %q is not a boolean", c.Args[2])
		}
		return tx.SetLinkGroup(c.Args[1], c.Args[0], allowed)
	}},

	"set allpoolsactive": {1, 1, nil, "set allpoolsactive on|off", func(tx *selection.Tx, c *Command) error {
		switch c.Args[0] {
		case "on":
			tx.SetAllPoolsActive(true)
		case "off":
			tx.SetAllPoolsActive(false)
		default:
			return syntaxf(c, "set allpoolsactive: expected on or off")
		}
		return nil
	}},
	"clear im_really_sure": {0, 0, nil, "clear im_really_sure", func(tx *selection.Tx, _ *Command) error {
		tx.Clear()
		return nil
	}},
}

func createUnit(tx *selection.Tx, c *Command) error {
	var kinds []string
	for _, k := range unitKinds {
		if c.Has(k) {
			kinds = append(kinds, k)
		}
	}
	if len(kinds) != 1 {
		return syntaxf(c, "create unit: exactly one of -store, -net, -protocol or -dcache is required")
	}
	kind, err := selection.ParseUnitKind(kinds[0])
	if err != nil {
		return err
	}
	return tx.CreateUnit(kind, c.Args[0])
}

func setLink(tx *selection.Tx, c *Command) error {
	var s selection.LinkSettings
	if v, ok := c.Option("pref"); ok {
		pref, err := strconv.Atoi(v)
		if err != nil {
			return syntaxf(c, "set link: -pref=%s is not a number", v)
		}
		s.Read, s.Write, s.Cache, s.P2P = &pref, &pref, &pref, &pref
	}
	for name, dst := range map[string]**int{
		"readpref":  &s.Read,
		"writepref": &s.Write,
		"cachepref": &s.Cache,
		"p2ppref":   &s.P2P,
	} {
		v, ok := c.Option(name)
		if !ok {
			continue
		}
		pref, err := strconv.Atoi(v)
		if err != nil {
			return syntaxf(c, "set link: -%s=%s is not a number", name, v)
		}
		*dst = &pref
	}
	if v, ok := c.Option("section"); ok {
		if v == "" {
			return syntaxf(c, "set link: -section needs a value")
		}
		s.Tag = &v
	}
	return tx.SetLink(c.Args[0], s)
}

func syntaxf(c *Command, format string, args ...any) error {
	return &SyntaxError{Line: c.Line, Text: c.String(), Msg: fmt.Sprintf(format, args...)}
}

// Apply runs one command inside tx
func Apply(tx *selection.Tx, c *Command) error {
	if err := c.validate(); err != nil {
		return err
	}
	err := verbs[c.Verb].apply(tx, c)
	var se *SyntaxError
	if err == nil || errors.As(err, &se) {
		return err
	}
	if c.Line > 0 {
		return fmt.Errorf("line %d: %s: %w", c.Line, c.Verb, err)
	}
	return fmt.Errorf("%s: %w", c.Verb, err)
}

// ApplyAll runs cmds in order and stops at the first failure
func ApplyAll(tx *selection.Tx, cmds []*Command) error {
	for _, c := range cmds {
		if err := Apply(tx, c); err != nil {
			return err
		}
	}
	return nil
}

// Exec applies cmds to the engine as one atomic update. Either every
// command takes effect or none does.
func Exec(e *selection.Engine, cmds []*Command) error {
	return e.Update(func(tx *selection.Tx) error {
		return ApplyAll(tx, cmds)
	})
}

// ExecScript parses and executes a script atomically
func ExecScript(e *selection.Engine, r io.Reader) (int, error) {
	cmds, err := ParseScript(r)
	if err != nil {
		return 0, err
	}
	if err := Exec(e, cmds); err != nil {
		return 0, err
	}
	return len(cmds), nil
}
