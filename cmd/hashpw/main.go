// Command hashpw produces a bcrypt hash for the admin password, suitable
// for server.admin_password_hash or the ADMIN_PASSWORD_HASH environment
// variable.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

func main() {
	os.Exit(run(os.Args, os.Stdin, os.Stdout))
}

func run(args []string, in io.Reader, out io.Writer) int {
	password, err := readPassword(args, in)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 1
	}
	if password == "" {
		fmt.Fprintln(out, "Usage: hashpw [password]")
		return 1
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(out, string(hash))
	return 0
}

func readPassword(args []string, in io.Reader) (string, error) {
	if len(args) > 1 {
		return args[1], nil
	}

	// Interactive terminal: prompt without echoing.
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(os.Stderr, "Password: ")
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}

	// Piped input: first line.
	sc := bufio.NewScanner(in)
	if sc.Scan() {
		return strings.TrimSpace(sc.Text()), nil
	}
	return "", sc.Err()
}
