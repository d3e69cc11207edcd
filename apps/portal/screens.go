package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core/guard"
	"github.com/trezcool/masomo-portal/core/permission"
)

type screenDef struct {
	name     string
	required *permission.Code
	screen   guard.Screen
}

// portalScreens lists the screens of the portal with their default requirements.
func (cli *commandLine) portalScreens() []screenDef {
	return []screenDef{
		{name: "dashboard", screen: guard.ScreenFunc(cli.dashboard)},
		{name: "profile", screen: guard.ScreenFunc(cli.profile)},
		{name: "schools", required: guard.Require("SCHOOL", "view"), screen: guard.ScreenFunc(cli.schoolsScreen)},
		{name: "students", required: guard.Require("STUDENT", "view"), screen: guard.TextScreen("Students")},
		{name: "students.add", required: guard.Require("STUDENT", "add"), screen: guard.TextScreen("Add a student")},
		{name: "teachers", required: guard.Require("TEACHER", "view"), screen: guard.TextScreen("Teachers")},
		{name: "teachers.add", required: guard.Require("TEACHER", "add"), screen: guard.TextScreen("Add a teacher")},
		{name: "fees", required: guard.Require("FEES", "view"), screen: guard.TextScreen("Fees")},
		{name: "settings", required: guard.Require("SETTINGS", "manage"), screen: guard.TextScreen("Settings")},
	}
}

// newRegistry registers the portal screens; policies override the default requirement of the
// screens they list.
func (cli *commandLine) newRegistry(policies guard.Policies) (*guard.Registry, error) {
	reg := guard.NewRegistry(cli.mgr,
		guard.WithAdminOverride(cli.conf.Guard.AdminImpliesAll),
		guard.WithObserver(func(s guard.State) { cli.logger.Debug("navigation", s.String()) }),
	)
	for _, def := range cli.portalScreens() {
		required := def.required
		if _, ok := policies[def.name]; ok {
			required = policies.Lookup(def.name)
		}
		if err := reg.Register(def.name, def.screen, required); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func loadPolicies(path string) (guard.Policies, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening screen policies")
	}
	defer f.Close()
	return guard.LoadPolicies(f)
}

func (cli *commandLine) dashboard(_ context.Context, w io.Writer) error {
	usr, _ := cli.mgr.CurrentUser()
	_, err := fmt.Fprintf(w, "Welcome %s! (%s)\n", usr.DisplayName, usr.RoleType)
	return err
}

func (cli *commandLine) profile(_ context.Context, w io.Writer) error {
	usr, _ := cli.mgr.CurrentUser()
	return printProfile(w, usr)
}

func (cli *commandLine) schoolsScreen(ctx context.Context, w io.Writer) error {
	schools, err := cli.source.Schools(ctx)
	if err != nil {
		return errors.Wrap(err, "listing schools")
	}
	for _, s := range schools {
		if _, err = fmt.Fprintf(w, "%s\t%s\n", s.ID, s.Name); err != nil {
			return err
		}
	}
	return nil
}
