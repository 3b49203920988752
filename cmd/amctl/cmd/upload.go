package cmd

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/donaldgifford/automarket/internal/upload"
)

func (a *app) uploadCmd() *cobra.Command {
	var fromURL string

	cmd := &cobra.Command{
		Use:   "upload [file]",
		Short: "Upload a listing image and print its public URL",
		Long: "Upload an image to object storage under your user ID and print the\n" +
			"public URL to use as a listing's image. Images over 8 MB or files that\n" +
			"are not images are rejected before anything is sent. --from-url copies\n" +
			"an image from a public http(s) URL instead.",
		Example: `  amctl upload ./mx5.jpg
  amctl upload --from-url https://example.com/car.jpg`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (fromURL == "") {
				return fmt.Errorf("pass either a file or --from-url")
			}
			p, err := a.provider()
			if err != nil {
				return err
			}
			u := p.CurrentUser()
			if u == nil {
				return fmt.Errorf("not signed in, run 'amctl login' first")
			}

			ctx := context.Background()
			var url string
			if fromURL != "" {
				up, err := a.uploader()
				if err != nil {
					return err
				}
				url, err = upload.NewImporter(up).Import(ctx, u.UID, fromURL)
				if err != nil {
					return err
				}
			} else {
				url, err = a.uploadPath(ctx, u.UID, args[0])
				if err != nil {
					return err
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
	cmd.Flags().StringVar(&fromURL, "from-url", "", "copy the image from this http(s) URL")
	return cmd
}

// uploadPath uploads the local file at path for uid and returns its public
// URL.
func (a *app) uploadPath(ctx context.Context, uid, path string) (string, error) {
	up, err := a.uploader()
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("reading image: %w", err)
	}
	f := upload.File{
		Name:        filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Size:        info.Size(),
	}
	if err := upload.Check(f); err != nil {
		return "", err
	}

	file, err := os.Open(path) //nolint:gosec // path from trusted CLI argument
	if err != nil {
		return "", fmt.Errorf("opening image: %w", err)
	}
	defer file.Close()

	f.Body = file
	return up.Upload(ctx, uid, f)
}
