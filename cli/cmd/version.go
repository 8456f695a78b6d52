package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/cadenzalab/bmsrender/cli/render"
	"github.com/cadenzalab/bmsrender/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// VersionCommand returns the version command. It reports the canonical
// project version and never touches any chart or audio data.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  ReadOnlyFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}

		resp := VersionResponse{
			Version: types.Version,
			Commit:  commit,
		}
		return r.Render(resp)
	}
}
