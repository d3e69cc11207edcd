package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/credential"
	"github.com/trezcool/masomo-portal/core/filter"
	"github.com/trezcool/masomo-portal/core/guard"
	"github.com/trezcool/masomo-portal/core/session"
	"github.com/trezcool/masomo-portal/services/api"
	"github.com/trezcool/masomo-portal/storage/database"
)

var (
	readPasswordFunc = term.ReadPassword // mockable
	migrateFunc      = database.Migrate  // mockable

	errHelp           = errors.New("help provided")
	errSessionExpired = errors.New("your session has expired, run `portal login` again")
)

type commandLine struct {
	conf   *core.Config
	logger core.Logger
	store  credential.Store
	mgr    *session.Manager
	client *api.Client
	source filter.Source
	out    io.Writer
}

func (cli *commandLine) run(args []string) error {
	root := &cobra.Command{
		Use:           "portal",
		Short:         "Masomo school portal",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Help()
			return errHelp
		},
	}
	root.SetOut(cli.out)
	root.SetErr(cli.out)
	root.AddCommand(
		cli.loginCmd(),
		cli.logoutCmd(),
		cli.refreshCmd(),
		cli.whoamiCmd(),
		cli.screensCmd(),
		cli.openCmd(),
		cli.filterCmd(),
		cli.migrateCmd(),
	)
	if len(args) > 0 {
		args = args[1:]
	}
	root.SetArgs(args)

	ctx := context.Background()
	if _, ok := cli.mgr.Load(ctx); ok {
		cli.logger.Debug("session restored", cli.mgr.UserType().String())
	}

	err := root.ExecuteContext(ctx)
	if api.IsAuthorizationFailure(err) {
		return errSessionExpired
	}
	return err
}

func (cli *commandLine) loginCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in; the password is prompted next",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(username) == "" {
				_ = cmd.Usage()
				return errHelp
			}
			fmt.Fprint(cli.out, "Enter password:")
			pwd, err := readPasswordFunc(int(syscall.Stdin))
			fmt.Fprintln(cli.out)
			if err != nil {
				return err
			}
			if len(pwd) == 0 {
				_ = cmd.Usage()
				return errHelp
			}

			rec, err := cli.client.Login(cmd.Context(), username, string(pwd))
			if err != nil && !errors.Is(err, credential.ErrStorageUnavailable) {
				return err
			}
			if err != nil {
				fmt.Fprintln(cli.out, "warning: the session could not be saved and ends with this command")
			}
			fmt.Fprintf(cli.out, "Logged in as %s (%s)\n", rec.User.DisplayName, rec.User.RoleType)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "the account's username")
	return cmd
}

func (cli *commandLine) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cli.client.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cli.out, "Logged out")
			return nil
		},
	}
}

func (cli *commandLine) refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the session token for a fresh one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := cli.client.Refresh(cmd.Context()); err != nil && !errors.Is(err, credential.ErrStorageUnavailable) {
				return err
			}
			fmt.Fprintln(cli.out, "Session refreshed")
			return nil
		},
	}
}

func (cli *commandLine) whoamiCmd() *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the current user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cli.mgr.IsAuthenticated() {
				fmt.Fprintln(cli.out, "Not logged in")
				return nil
			}
			usr, _ := cli.mgr.CurrentUser()
			if remote {
				var err error
				if usr, err = cli.client.Me(cmd.Context()); err != nil {
					return err
				}
			}
			return printProfile(cli.out, usr)
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "ask the backend instead of the saved session")
	return cmd
}

func printProfile(w io.Writer, usr session.UserProfile) error {
	codes := usr.PermissionSet().Codes()
	perms := make([]string, 0, len(codes))
	for _, c := range codes {
		perms = append(perms, c.String())
	}
	_, err := fmt.Fprintf(w, "id:          %s\nname:        %s\nrole:        %s\npermissions: %s\n",
		usr.ID, usr.DisplayName, usr.RoleType, strings.Join(perms, ", "))
	return err
}

func (cli *commandLine) registry() (*guard.Registry, error) {
	policies, err := loadPolicies(cli.conf.Guard.PoliciesFile)
	if err != nil {
		return nil, err
	}
	return cli.newRegistry(policies)
}

func (cli *commandLine) screensCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "screens",
		Short: "List the screens and whether the current session may open them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := cli.registry()
			if err != nil {
				return err
			}
			for _, name := range reg.Names() {
				g, _ := reg.Lookup(name)
				required := "-"
				if code, ok := g.Required(); ok {
					required = code.String()
				}
				fmt.Fprintf(cli.out, "%-14s %-16s %s\n", name, required, g.Check())
			}
			return nil
		},
	}
}

func (cli *commandLine) openCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open SCREEN",
		Short: "Open a screen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := cli.registry()
			if err != nil {
				return err
			}
			_, err = reg.Open(cmd.Context(), args[0], cli.out)
			if errors.Is(err, guard.ErrUnknownScreen) {
				if names := reg.Suggest(args[0]); len(names) > 0 {
					return errors.Wrapf(err, "did you mean %s?", strings.Join(names, " or "))
				}
			}
			return err
		},
	}
}

func (cli *commandLine) filterKey() string {
	return cli.conf.Session.StorageKey + ".filter"
}

// loadSelection restores the saved filter; a broken value reads as no filter.
func (cli *commandLine) loadSelection(ctx context.Context) filter.Selection {
	var sel filter.Selection
	raw, err := cli.store.Get(ctx, cli.filterKey())
	if err != nil {
		return sel
	}
	if err = yaml.Unmarshal([]byte(raw), &sel); err != nil {
		cli.logger.Warn("discarding unreadable filter selection", err)
		return filter.Selection{}
	}
	return sel
}

func (cli *commandLine) saveSelection(ctx context.Context, sel filter.Selection) {
	if sel == (filter.Selection{}) {
		if err := cli.store.Remove(ctx, cli.filterKey()); err != nil {
			cli.logger.Warn("removing filter selection", err)
		}
		return
	}
	data, err := yaml.Marshal(sel)
	if err == nil {
		err = cli.store.Set(ctx, cli.filterKey(), string(data))
	}
	if err != nil {
		cli.logger.Warn("saving filter selection", err)
	}
}

func (cli *commandLine) filterCmd() *cobra.Command {
	var school, class, division string
	var clear bool
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Show or change the School > Class > Division filter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			ctrl := filter.NewController(cli.logger)
			ctrl.SyncFromExternal(cli.loadSelection(ctx))
			ctrl.Subscribe(func(sel filter.Selection) { cli.saveSelection(ctx, sel) })

			flags := cmd.Flags()
			if clear {
				ctrl.ClearAll()
			}
			if flags.Changed("school") {
				ctrl.SelectSchool(school)
			}
			if flags.Changed("class") {
				ctrl.SelectClass(class)
			}
			if flags.Changed("division") {
				ctrl.SelectDivision(division)
			}

			sel := ctrl.Selection()
			lists, err := filter.Options(ctx, cli.source, sel)
			if err != nil {
				return err
			}
			printLevel(cli.out, "School", sel.SchoolID, lists.Schools)
			if sel.SchoolID != "" {
				printLevel(cli.out, "Class", sel.ClassID, lists.Classes)
			}
			if sel.ClassID != "" {
				printLevel(cli.out, "Division", sel.DivisionID, lists.Divisions)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&school, "school", "", "select a school (clears class and division)")
	cmd.Flags().StringVar(&class, "class", "", "select a class of the selected school (clears division)")
	cmd.Flags().StringVar(&division, "division", "", "select a division of the selected class")
	cmd.Flags().BoolVar(&clear, "clear", false, "clear the whole filter first")
	return cmd
}

func printLevel(w io.Writer, level, selected string, opts []filter.Option) {
	fmt.Fprintf(w, "%s:\n", level)
	sorted := append([]filter.Option(nil), opts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, o := range sorted {
		mark := " "
		if o.ID == selected {
			mark = "*"
		}
		fmt.Fprintf(w, "  %s %s\t%s\n", mark, o.ID, o.Name)
	}
}

func (cli *commandLine) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate COMMAND [ARGS...]",
		Short: "Run the session database migrations (" + strings.Join(database.MigrateCommands, ", ") + ")",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				_ = cmd.Usage()
				return errHelp
			}
			db, err := openDBFunc(cli.conf)
			if err != nil {
				return errors.Wrap(err, "opening database")
			}
			defer db.Close()
			return migrateFunc(db.DB, args...)
		},
	}
}
