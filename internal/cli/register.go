package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/go-playground/validator/v10"
	"github.com/raphaelgruber/ragone/internal/models"
	"github.com/raphaelgruber/ragone/internal/route"
	"github.com/spf13/cobra"
)

var (
	registerUsername      string
	registerEmail         string
	registerFullName      string
	registerPasswordStdin bool
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account",
	Long: `Create an account. Registering does not sign you in; run 'ragone login'
afterwards.

Missing fields are asked for in an interactive form.

Examples:
  ragone register
  echo "$PASSWORD" | ragone register -u ada -e ada@example.com -n "Ada Lovelace" --password-stdin`,
	Annotations: map[string]string{annotationRoute: route.PathRegister, annotationMutates: "true"},
	RunE:        runRegister,
}

func init() {
	registerCmd.Flags().StringVarP(&registerUsername, "username", "u", "", "username (3-50 characters)")
	registerCmd.Flags().StringVarP(&registerEmail, "email", "e", "", "email address")
	registerCmd.Flags().StringVarP(&registerFullName, "name", "n", "", "full name")
	registerCmd.Flags().BoolVar(&registerPasswordStdin, "password-stdin", false, "read the password from stdin")
}

var fieldValidator = validator.New()

// fieldCheck adapts a validator tag to a huh field validator.
func fieldCheck(label, tag string) func(string) error {
	return func(s string) error {
		if err := fieldValidator.Var(strings.TrimSpace(s), tag); err != nil {
			return fmt.Errorf("%s is invalid (%s)", label, tag)
		}
		return nil
	}
}

func runRegister(cmd *cobra.Command, args []string) error {
	req := models.RegisterRequest{
		Username: registerUsername,
		Email:    registerEmail,
		FullName: registerFullName,
	}

	if registerPasswordStdin {
		password, err := readLine(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		req.Password = password
	}

	if req.Username == "" || req.Email == "" || req.FullName == "" || req.Password == "" {
		if !interactive(cmd) {
			return errors.New("missing fields; pass --username, --email, --name and --password-stdin")
		}
		if err := registerForm(&req).Run(); err != nil {
			return err
		}
	}
	if err := validateRegistration(req); err != nil {
		return err
	}

	resp, err := app.gate.Register(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}

	msg := resp.Message
	if msg == "" {
		msg = "Account created"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s. Run 'ragone login -u %s' to sign in.\n", msg, req.Username)
	return nil
}

// validateRegistration applies the form rules to values given as flags.
func validateRegistration(req models.RegisterRequest) error {
	checks := []struct {
		value string
		check func(string) error
	}{
		{req.Username, fieldCheck("username", "required,min=3,max=50")},
		{req.Email, fieldCheck("email", "required,email")},
		{req.FullName, fieldCheck("full name", "required,max=100")},
		{req.Password, fieldCheck("password", "required,min=6,max=120")},
	}
	for _, c := range checks {
		if err := c.check(c.value); err != nil {
			return err
		}
	}
	return nil
}

func registerForm(req *models.RegisterRequest) *huh.Form {
	var confirm string
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Username").
				Value(&req.Username).
				Validate(fieldCheck("username", "required,min=3,max=50")),
			huh.NewInput().
				Title("Email").
				Value(&req.Email).
				Validate(fieldCheck("email", "required,email")),
			huh.NewInput().
				Title("Full name").
				Value(&req.FullName).
				Validate(fieldCheck("full name", "required,max=100")),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&req.Password).
				Validate(fieldCheck("password", "required,min=6,max=120")),
			huh.NewInput().
				Title("Confirm password").
				EchoMode(huh.EchoModePassword).
				Value(&confirm).
				Validate(func(s string) error {
					if s != req.Password {
						return errors.New("passwords do not match")
					}
					return nil
				}),
		).Title("Create a ragone account"),
	).WithTheme(huh.ThemeBase())
}
