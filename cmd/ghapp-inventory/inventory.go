package main

import (
	"context"
	"fmt"
	"io"
	"iter"

	"github.com/chinmina/ghapp"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type inventory struct {
	AppID         int64                   `yaml:"app_id"`
	Installations []installationInventory `yaml:"installations"`
}

type installationInventory struct {
	ID           int64    `yaml:"id"`
	Account      string   `yaml:"account,omitempty"`
	TargetType   string   `yaml:"target_type,omitempty"`
	Repositories []string `yaml:"repositories"`
}

// collect lists the repositories of every installation, or of the single
// installation given. Repositories of an installation are listed before the
// next installation is requested.
func collect(ctx context.Context, app *ghapp.App, installationID int64) (inventory, error) {
	inv := inventory{AppID: app.AppID(), Installations: []installationInventory{}}

	if installationID != 0 {
		entry, err := collectRepositories(app.Repositories(ctx, ghapp.RepositoryQuery{InstallationID: installationID}), installationInventory{ID: installationID})
		if err != nil {
			return inv, err
		}
		inv.Installations = append(inv.Installations, entry)
		return inv, nil
	}

	err := app.EachInstallation(ctx, func(ctx context.Context, item ghapp.InstallationItem) error {
		entry := installationInventory{ID: item.Installation.ID}

		installation, err := item.Installation.Decode()
		if err != nil {
			return fmt.Errorf("installation %d could not be decoded: %w", item.Installation.ID, err)
		}
		entry.Account = installation.GetAccount().GetLogin()
		entry.TargetType = installation.GetTargetType()

		// the installation client is reused, so each installation is
		// authenticated once
		entry, err = collectRepositories(app.RepositoriesFor(ctx, item.Client), entry)
		if err != nil {
			return err
		}

		inv.Installations = append(inv.Installations, entry)
		return nil
	})
	if err != nil {
		return inv, err
	}

	return inv, nil
}

func collectRepositories(repos iter.Seq2[ghapp.RepositoryItem, error], entry installationInventory) (installationInventory, error) {
	entry.Repositories = []string{}

	for item, err := range repos {
		if err != nil {
			return entry, fmt.Errorf("repositories of installation %d could not be listed: %w", entry.ID, err)
		}
		entry.Repositories = append(entry.Repositories, item.Repository.FullName)
	}

	log.Debug().
		Int64("installation_id", entry.ID).
		Int("repositories", len(entry.Repositories)).
		Msg("installation listed")

	return entry, nil
}

func write(w io.Writer, inv inventory) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(inv); err != nil {
		return fmt.Errorf("could not write inventory: %w", err)
	}
	return enc.Close()
}
