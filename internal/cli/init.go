package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const sampleProjectFile = `project: myapp

ssh:
  user: deploy
  port: 22

servers:
  web1:
    host: 1.2.3.4
    arch: amd64

services:
  web:
    image: myapp/web:latest
    hosts: [web1]
    ports:
      - "80:3000"
    env:
      clear:
        RAILS_ENV: production
      secrets:
        - DATABASE_URL
    proxy:
      enabled: true
      targets:
        - host: myapp.example.com
          healthcheck:
            path: /up

secrets_path: .jiji/secrets
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new project file",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := ".jiji"
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}

		path := filepath.Join(dir, "deploy.yml")
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}

		if err := os.WriteFile(path, []byte(sampleProjectFile), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}

		fmt.Printf("Created %s\n", path)
		return nil
	},
}
