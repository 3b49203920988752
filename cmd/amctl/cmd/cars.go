package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/donaldgifford/automarket/internal/api/client"
	"github.com/donaldgifford/automarket/internal/listing"
	domain "github.com/donaldgifford/automarket/pkg/types"
)

func (a *app) carsCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cars",
		Short: "Browse and manage car listings",
		Long: "Browse car listings and, as a seller, create, update and delete your\n" +
			"own listings.",
	}

	root.AddCommand(
		a.carsListCmd(),
		a.carsGetCmd(),
		a.carsCreateCmd(),
		a.carsUpdateCmd(),
		a.carsDeleteCmd(),
		a.carsMineCmd(),
	)

	return root
}

func (a *app) carsListCmd() *cobra.Command {
	var params client.ListCarsParams

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List car listings",
		Example: `  amctl cars list
  amctl cars list --make bmw --year-from 2015 --price-to 20000
  amctl cars list --sort priceEur,asc --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			page, err := a.anonClient().ListCars(context.Background(), &params)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.jsonOutput() {
				return outputJSON(out, page)
			}
			if len(page.Content) == 0 {
				fmt.Fprintln(out, "No cars found.")
				return nil
			}
			if err := printCarTable(out, page.Content); err != nil {
				return err
			}
			fmt.Fprintf(out, "\nPage %d of %d (%d total)\n", page.Number+1, max(page.TotalPages, 1), page.TotalElements)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&params.Make, "make", "", "filter by make (case-insensitive)")
	f.IntVar(&params.YearFrom, "year-from", 0, "minimum year")
	f.IntVar(&params.YearTo, "year-to", 0, "maximum year")
	f.IntVar(&params.PriceFrom, "price-from", 0, "minimum price in EUR")
	f.IntVar(&params.PriceTo, "price-to", 0, "maximum price in EUR")
	f.IntVar(&params.Page, "page", 0, "page number (0-based)")
	f.IntVar(&params.Size, "size", 20, "page size")
	f.StringVar(&params.Sort, "sort", client.SortNewest, "sort as field,direction")
	return cmd
}

func (a *app) carsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show listing details",
		Example: `  amctl cars get 42
  amctl cars get 42 --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			car, err := a.anonClient().GetCar(context.Background(), id)
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return outputJSON(cmd.OutOrStdout(), car)
			}
			return printCarDetail(cmd.OutOrStdout(), car)
		},
	}
}

// carFlags are the listing fields settable from the command line.
type carFlags struct {
	make, model, imageURL, image, description string
	year                                      int
	price                                     float64
}

func (cf *carFlags) register(f *pflag.FlagSet) {
	f.StringVar(&cf.make, "make", "", "make, e.g. BMW")
	f.StringVar(&cf.model, "model", "", "model, e.g. 320d")
	f.IntVar(&cf.year, "year", 0, "model year")
	f.Float64Var(&cf.price, "price", 0, "price in EUR")
	f.StringVar(&cf.imageURL, "image-url", "", "image URL")
	f.StringVar(&cf.image, "image", "", "local image file to upload (needs --storage-url)")
	f.StringVar(&cf.description, "description", "", "free-text description")
}

// apply overlays the flags that were set on in.
func (cf *carFlags) apply(f *pflag.FlagSet, in domain.CarInput) domain.CarInput {
	if f.Changed("make") {
		in.Make = cf.make
	}
	if f.Changed("model") {
		in.Model = cf.model
	}
	if f.Changed("year") {
		in.Year = cf.year
	}
	if f.Changed("price") {
		in.PriceEUR = cf.price
	}
	if f.Changed("image-url") {
		in.ImageURL = cf.imageURL
	}
	if f.Changed("description") {
		in.Description = cf.description
	}
	return in
}

func (a *app) carsCreateCmd() *cobra.Command {
	var cf carFlags

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a listing (SELLER or ADMIN)",
		Long: "Create a listing. Input is validated locally first; nothing is sent\n" +
			"when it is invalid. --image uploads a local file and uses its public URL.",
		Example: `  amctl cars create --make Mazda --model MX-5 --year 2019 --price 18500 \
    --image ./mx5.jpg --description "One owner"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, c, err := a.sessionClient()
			if err != nil {
				return err
			}
			ctx := context.Background()
			st, err := a.requireSeller(ctx, p)
			if err != nil {
				return err
			}

			in := cf.apply(cmd.Flags(), domain.CarInput{})
			if cf.image != "" {
				if in.ImageURL, err = a.uploadPath(ctx, st.UID, cf.image); err != nil {
					return err
				}
			}

			var sub listing.Submitter
			car, err := sub.Submit(ctx, in, c.CreateCar)
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return outputJSON(cmd.OutOrStdout(), car)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created listing %d: %s\n", car.ID, car.Title())
			return nil
		},
	}
	cf.register(cmd.Flags())
	return cmd
}

func (a *app) carsUpdateCmd() *cobra.Command {
	var cf carFlags

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update one of your listings",
		Long: "Update a listing. Only the flags you pass change; the other fields keep\n" +
			"their current values.",
		Example: `  amctl cars update 42 --price 17900
  amctl cars update 42 --image ./new.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			p, c, err := a.sessionClient()
			if err != nil {
				return err
			}
			ctx := context.Background()
			st, err := a.requireSeller(ctx, p)
			if err != nil {
				return err
			}

			current, err := c.GetCar(ctx, id)
			if err != nil {
				return err
			}
			in := cf.apply(cmd.Flags(), current.Input())
			if cf.image != "" {
				if in.ImageURL, err = a.uploadPath(ctx, st.UID, cf.image); err != nil {
					return err
				}
			}

			send := func(ctx context.Context, in domain.CarInput) (*domain.Car, error) {
				return c.UpdateCar(ctx, id, in)
			}
			var sub listing.Submitter
			car, err := sub.Submit(ctx, in, send)
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return outputJSON(cmd.OutOrStdout(), car)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated listing %d: %s\n", car.ID, car.Title())
			return nil
		},
	}
	cf.register(cmd.Flags())
	return cmd
}

func (a *app) carsDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one of your listings",
		Long: "Delete a listing. You are asked to confirm unless --yes is given. The\n" +
			"deletion cannot be undone.",
		Example: `  amctl cars delete 42
  amctl cars delete 42 --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			p, c, err := a.sessionClient()
			if err != nil {
				return err
			}
			ctx := context.Background()
			if _, err := a.requireSeller(ctx, p); err != nil {
				return err
			}

			car, err := c.GetCar(ctx, id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !yes {
				ok, err := confirm(cmd.InOrStdin(), out,
					fmt.Sprintf("Delete %s (%d)? This cannot be undone. [y/N] ", car.Title(), car.ID))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, "Aborted.")
					return nil
				}
			}

			if err := c.DeleteCar(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(out, "Deleted listing %d.\n", id)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func (a *app) carsMineCmd() *cobra.Command {
	var query, sort string

	cmd := &cobra.Command{
		Use:   "mine",
		Short: "Show your listings with totals (seller dashboard)",
		Example: `  amctl cars mine
  amctl cars mine --search bmw --sort priceDesc`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, c, err := a.sessionClient()
			if err != nil {
				return err
			}
			ctx := context.Background()
			st, err := a.requireSeller(ctx, p)
			if err != nil {
				return err
			}

			dash := listing.NewDashboard(c)
			if err := dash.Load(ctx); err != nil {
				return err
			}
			view := dash.View(st.UID, query, listing.ParseSortMode(sort))

			out := cmd.OutOrStdout()
			if a.jsonOutput() {
				return outputJSON(out, view)
			}
			if err := printStats(out, view.Stats); err != nil {
				return err
			}
			if len(view.Listings) == 0 {
				fmt.Fprintln(out, "No listings found.")
				return nil
			}
			return printCarTable(out, view.Listings)
		},
	}
	cmd.Flags().StringVar(&query, "search", "", "filter by make, model or year")
	cmd.Flags().StringVar(&sort, "sort", string(listing.SortCreated),
		"sort order (created, priceAsc, priceDesc, yearDesc)")
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid listing id %q", s)
	}
	return id, nil
}

func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("reading answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
