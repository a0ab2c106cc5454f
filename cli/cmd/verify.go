package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/zipline/archive"
	"github.com/pithecene-io/zipline/cli/render"
	"github.com/pithecene-io/zipline/cli/tui"
)

// VerifyCommand returns the verify command.
// Verify re-reads an archive and checks every entry against its recorded CRC-32.
func VerifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Check a zip archive written by zipline",
		ArgsUsage: "<archive.zip>",
		Flags:     TUIReadOnlyFlags(),
		Action:    verifyAction,
	}
}

func verifyAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("archive path required", exitInvalidInput)
	}
	path := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	report, err := archive.VerifyFile(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot read archive: %v", err), exitFailed)
	}

	if c.Bool("tui") {
		if err := r.RenderTUI(tui.ViewVerify, report); err != nil {
			return err
		}
	} else if err := r.Render(report); err != nil {
		return err
	}

	if !report.Valid {
		return cli.Exit("", exitFailed)
	}
	return nil
}
