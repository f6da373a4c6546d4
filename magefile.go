//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"path"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const BIN_DIR_NAME = "bin"

var binaries = map[string]string{
	"mic-server": "./cmd/mic-server",
	"mic-client": "./cmd/mic-client",
}

var Default = Build

func Vet() error {
	return sh.RunV("go", "vet", "./...")
}

func Test() error {
	mg.Deps(Vet)
	return sh.RunV("go", "test", "-race", "-count=1", "./...")
}

func Build() error {
	dirPath, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("Unable get pwd of project root. Err: %w", err)
	}

	for name, pkg := range binaries {
		out := path.Join(dirPath, BIN_DIR_NAME, name)
		fmt.Printf("[Go] Build %s -> %s\n", pkg, out)
		if err := sh.RunV("go", "build", "-o", out, pkg); err != nil {
			return err
		}
	}
	return nil
}

// RunServer starts the room backend with the rooms given as a comma separated list.
func RunServer(rooms string) error {
	env := map[string]string{}
	if rooms != "" {
		env["ROOMS"] = rooms
	}
	return sh.RunWithV(env, "go", "run", binaries["mic-server"])
}

// RunClient joins room as identity with role.
func RunClient(room, identity, role string) error {
	return sh.RunV("go", "run", binaries["mic-client"],
		"--room", room,
		"--identity", identity,
		"--role", role,
	)
}

func Clean() error {
	return sh.Rm(BIN_DIR_NAME)
}
