package main

import (
	"fmt"
	"strings"

	"github.com/abiosoft/ishell/v2"
)

// shellDesk is what the interactive shell drives.
type shellDesk interface {
	Move(target uint16) (bool, error)
	Height() (uint16, float64, error)
	MoveUp() (bool, error)
	MoveDown() (bool, error)
	Stop() (bool, error)
}

// shellCommand runs one shell command and returns the line to print.
type shellCommand struct {
	name string
	help string
	run  func(args []string) (string, error)
}

func shellCommands(d shellDesk) []shellCommand {
	sentinel := func(name string, fn func() (bool, error)) func([]string) (string, error) {
		return func(args []string) (string, error) {
			if len(args) > 0 {
				return "", fmt.Errorf("%s takes no arguments", name)
			}
			if err := single(fn); err != nil {
				return "", err
			}
			return "ok", nil
		}
	}

	return []shellCommand{
		{
			name: "status",
			help: "print the current height",
			run: func(args []string) (string, error) {
				raw, cm, err := d.Height()
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Current height is: %d / %.2fcm", raw, cm), nil
			},
		},
		{
			name: "move",
			help: "move <height> | move -cm <centimeters>",
			run: func(args []string) (string, error) {
				target, err := parseMoveArgs(args)
				if err != nil {
					return "", err
				}
				reached, err := d.Move(target)
				if err != nil {
					return "", err
				}
				if !reached {
					return "", errNotReached
				}
				_, cm, err := d.Height()
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Reached %d (%.2fcm)", target, cm), nil
			},
		},
		{name: "up", help: "start moving up", run: sentinel("up", d.MoveUp)},
		{name: "down", help: "start moving down", run: sentinel("down", d.MoveDown)},
		{name: "stop", help: "stop moving", run: sentinel("stop", d.Stop)},
	}
}

func newShell(d shellDesk) *ishell.Shell {
	shell := ishell.New()
	shell.Println("DeskGo shell")
	shell.ShowPrompt(true)

	for _, cmd := range shellCommands(d) {
		cmd := cmd
		shell.AddCmd(&ishell.Cmd{
			Name: cmd.name,
			Help: cmd.help,
			Func: func(c *ishell.Context) {
				out, err := cmd.run(c.Args)
				if err != nil {
					c.Err(err)
					return
				}
				if out = strings.TrimSpace(out); out != "" {
					c.Println(out)
				}
			},
		})
	}
	return shell
}
