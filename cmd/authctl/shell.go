package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/matedash/authbridge/internal/authbridge"
	"github.com/matedash/authbridge/internal/identity"
	"github.com/matedash/authbridge/internal/models"
	"github.com/matedash/authbridge/internal/onboarding"
)

const usage = `commands:
  signin <email> <password>
  signup <email> <password> [display name]
  signout
  reset <email>
  social <provider>          print the sign-in URL to open
  callback <code>            finish a social sign-in
  state
  update <field>=<value>...  firstName, lastName, displayName, loginRedirectUrl
  complete                   finish onboarding
  visit <path>
  help | quit`

type shell struct {
	out    io.Writer
	bridge *authbridge.Bridge
	client *identity.Client
	gate   *onboarding.Gate
	route  string
}

func newShell(out io.Writer, b *authbridge.Bridge, c *identity.Client) *shell {
	return &shell{out: out, bridge: b, client: c, route: "/"}
}

// Navigate implements onboarding.Navigator.
func (s *shell) Navigate(path string) {
	s.route = path
	fmt.Fprintf(s.out, "-> %s\n", path)
}

// watch prints every state change until ctx ends.
func (s *shell) watch(ctx context.Context) {
	states, unsubscribe := s.bridge.Subscribe()
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case st := <-states:
				fmt.Fprintf(s.out, "[auth] %s\n", describe(st))
			}
		}
	}()
}

func describe(st authbridge.State) string {
	if st.User == nil {
		return string(st.Status)
	}
	return fmt.Sprintf("%s as %s (role=%s firstTime=%v)", st.Status, st.User.Email, st.User.Role, st.User.IsFirstTimeUser)
}

func (s *shell) run(ctx context.Context, in io.Reader) {
	fmt.Fprintln(s.out, usage)
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "> ")
		if !sc.Scan() {
			return
		}
		if !s.exec(ctx, sc.Text()) || ctx.Err() != nil {
			return
		}
	}
}

// exec runs one command line. It returns false when the shell should exit.
func (s *shell) exec(ctx context.Context, line string) bool {
	args := strings.Fields(line)
	if len(args) == 0 {
		return true
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "quit", "exit":
		return false
	case "help":
		fmt.Fprintln(s.out, usage)
	case "signin":
		if len(args) != 2 {
			return s.usage("signin <email> <password>")
		}
		s.report(s.bridge.SignIn(ctx, args[0], args[1]))
	case "signup":
		if len(args) < 2 {
			return s.usage("signup <email> <password> [display name]")
		}
		r := s.bridge.SignUp(ctx, args[0], args[1], strings.Join(args[2:], " "))
		if r.OK() && r.ConfirmationPending {
			fmt.Fprintln(s.out, "check your inbox to confirm the account")
			return true
		}
		s.report(r)
	case "signout":
		s.report(s.bridge.SignOut(ctx))
	case "reset":
		if len(args) != 1 {
			return s.usage("reset <email>")
		}
		s.report(s.bridge.ResetPassword(ctx, args[0]))
	case "social":
		if len(args) != 1 {
			return s.usage("social <provider>")
		}
		u, err := s.bridge.SignInWithSocial(ctx, args[0])
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
			return true
		}
		fmt.Fprintf(s.out, "open %s\n", u)
	case "callback":
		if len(args) != 1 {
			return s.usage("callback <code>")
		}
		if _, err := s.client.ExchangeCodeForSession(ctx, args[0]); err != nil {
			fmt.Fprintf(s.out, "error: %s\n", identity.ClassifyError(err).Message)
		}
	case "state":
		fmt.Fprintln(s.out, describe(s.bridge.State()))
	case "update":
		patch, err := parsePatch(args)
		if err != nil {
			return s.usage(err.Error())
		}
		if _, err := s.bridge.UpdateUser(ctx, patch); err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	case "complete":
		if err := s.gate.Complete(ctx); err != nil {
			fmt.Fprintf(s.out, "onboarding could not be saved: %v\n", err)
		}
	case "visit":
		if len(args) != 1 {
			return s.usage("visit <path>")
		}
		s.route = s.gate.Visit(args[0])
		fmt.Fprintf(s.out, "showing %s\n", s.route)
	default:
		fmt.Fprintf(s.out, "unknown command %q, try help\n", cmd)
	}
	return true
}

func (s *shell) usage(msg string) bool {
	fmt.Fprintf(s.out, "usage: %s\n", msg)
	return true
}

func (s *shell) report(r authbridge.Result) {
	if r.OK() {
		return
	}
	if r.Field != "" {
		fmt.Fprintf(s.out, "%s: %s\n", r.Field, r.Message)
		return
	}
	fmt.Fprintf(s.out, "error: %s\n", r.Message)
}

// parsePatch reads field=value pairs into a profile patch.
func parsePatch(args []string) (models.ProfilePatch, error) {
	var p models.ProfilePatch
	if len(args) == 0 {
		return p, errors.New("update <field>=<value>...")
	}
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok {
			return p, fmt.Errorf("expected field=value, got %q", a)
		}
		switch k {
		case "firstName":
			p.FirstName = models.Str(v)
		case "lastName":
			p.LastName = models.Str(v)
		case "displayName":
			p.DisplayName = models.Str(v)
		case "loginRedirectUrl":
			p.LoginRedirectURL = models.Str(v)
		default:
			return p, fmt.Errorf("unknown field %q", k)
		}
	}
	return p, nil
}
