package main

import (
	"errors"
	"fmt"
	"io"

	"agentcore/pkg/credentials"
)

func runSecrets(g *globalFlags, args []string, con *console, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprintln(con.out, "Usage: agentcore secrets set NAME | delete NAME | list")
		return errUsage
	}
	store := credentials.NewStore()
	existing := credentials.Exists(g.projectDir)
	var password string
	var err error
	if existing {
		if password, err = con.password("Secrets password: "); err != nil {
			return err
		}
		if err := store.Load(g.projectDir, password); err != nil {
			return fmt.Errorf("failed to unlock secrets: %w", err)
		}
	}

	switch args[0] {
	case "list":
		for _, name := range store.Names() {
			fmt.Fprintln(stdout, name)
		}
		return nil

	case "set", "delete":
		if len(args) != 2 {
			fmt.Fprintf(con.out, "Usage: agentcore secrets %s NAME\n", args[0])
			return errUsage
		}
		name := args[1]
		if args[0] == "set" {
			value, err := con.secret(fmt.Sprintf("Value for %s: ", name))
			if err != nil {
				return err
			}
			if value == "" {
				return errors.New("empty value; use delete to remove a secret")
			}
			store.Set(name, value)
		} else {
			store.Delete(name)
		}
		if !existing {
			if password, err = newPassword(con); err != nil {
				return err
			}
		}
		if err := store.Save(g.projectDir, password); err != nil {
			return fmt.Errorf("failed to save secrets: %w", err)
		}
		fmt.Fprintf(stdout, "Saved %s\n", credentials.Path(g.projectDir))
		return nil

	default:
		fmt.Fprintf(con.out, "Unknown secrets command %q\n", args[0])
		return errUsage
	}
}

// newPassword asks for a new password twice.
func newPassword(con *console) (string, error) {
	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		first, err := con.password("New secrets password: ")
		if err != nil {
			return "", err
		}
		if first == "" {
			fmt.Fprintln(con.out, "Password must not be empty.")
			continue
		}
		second, err := con.password("Confirm password: ")
		if err != nil {
			return "", err
		}
		if first == second {
			return first, nil
		}
		fmt.Fprintln(con.out, "Passwords do not match.")
	}
	return "", fmt.Errorf("no matching password after %d attempts", maxAttempts)
}
