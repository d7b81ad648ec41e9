package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/artpar/billgate/adapters/idgen"
	"github.com/artpar/billgate/adapters/sqlite"
	"github.com/artpar/billgate/config"
	"github.com/artpar/billgate/domain/catalog"
	"github.com/artpar/billgate/ports"
)

var packagesCmd = &cobra.Command{
	Use:   "packages",
	Short: "Manage the package catalog",
	Long: `Manage the sellable package catalog.

Packages define price, duration and quota allotments. The catalog is
administrative data: payments always snapshot the package at purchase
time, so edits never affect running subscriptions.

Examples:
  billgate packages list
  billgate packages create --code=pro-monthly --name="Pro Monthly" --price=500000 --duration=30
  billgate packages seed --file=packages.yaml`,
}

var packagesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active packages",
	RunE:  runPackagesList,
}

var packagesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a package",
	RunE:  runPackagesCreate,
}

var packagesSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load packages from a YAML file",
	RunE:  runPackagesSeed,
}

var (
	pkgCode     string
	pkgName     string
	pkgDesc     string
	pkgPrice    int64
	pkgDiscount int64
	pkgCurrency string
	pkgDuration int
	pkgJobPosts int64
	pkgFeatured int64
	pkgUrgent   int64
	pkgCVViews  int64
	seedFile    string
)

func init() {
	rootCmd.AddCommand(packagesCmd)

	packagesCmd.AddCommand(packagesListCmd)
	packagesCmd.AddCommand(packagesCreateCmd)
	packagesCmd.AddCommand(packagesSeedCmd)

	packagesCreateCmd.Flags().StringVar(&pkgCode, "code", "", "unique package code (required)")
	packagesCreateCmd.Flags().StringVar(&pkgName, "name", "", "display name (required)")
	packagesCreateCmd.Flags().StringVar(&pkgDesc, "description", "", "description")
	packagesCreateCmd.Flags().Int64Var(&pkgPrice, "price", 0, "price in minor currency units (required)")
	packagesCreateCmd.Flags().Int64Var(&pkgDiscount, "discount-price", 0, "discounted price, 0 = no discount")
	packagesCreateCmd.Flags().StringVar(&pkgCurrency, "currency", "VND", "ISO currency code")
	packagesCreateCmd.Flags().IntVar(&pkgDuration, "duration", 30, "validity in days")
	packagesCreateCmd.Flags().Int64Var(&pkgJobPosts, "job-posts", 0, "job post quota, 0 = unlimited")
	packagesCreateCmd.Flags().Int64Var(&pkgFeatured, "featured", 0, "featured post quota, 0 = unlimited")
	packagesCreateCmd.Flags().Int64Var(&pkgUrgent, "urgent", 0, "urgent post quota, 0 = unlimited")
	packagesCreateCmd.Flags().Int64Var(&pkgCVViews, "cv-views", 0, "CV view quota, 0 = unlimited")
	packagesCreateCmd.MarkFlagRequired("code")
	packagesCreateCmd.MarkFlagRequired("name")
	packagesCreateCmd.MarkFlagRequired("price")

	packagesSeedCmd.Flags().StringVar(&seedFile, "file", "packages.yaml", "seed file path")
}

func openDatabase() (*sqlite.DB, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func runPackagesList(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	store := sqlite.NewPackageStore(db)
	packages, err := store.ListActive(context.Background())
	if err != nil {
		return fmt.Errorf("list packages: %w", err)
	}

	if len(packages) == 0 {
		fmt.Println("No packages found.")
		fmt.Println()
		fmt.Println("Create one with: billgate packages create --code=pro-monthly --name=\"Pro Monthly\" --price=500000")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tNAME\tPRICE\tCURRENCY\tDAYS\tJOB POSTS\tFEATURED\tURGENT\tCV VIEWS")
	for _, p := range packages {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%s\t%s\t%s\t%s\n",
			p.Code, p.Name, p.FinalPrice(), p.Currency, p.DurationDays,
			quotaLabel(p.JobPostsQuota), quotaLabel(p.FeaturedQuota),
			quotaLabel(p.UrgentQuota), quotaLabel(p.CVViewsQuota))
	}
	return w.Flush()
}

func quotaLabel(n int64) string {
	if n == 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", n)
}

func runPackagesCreate(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	store := sqlite.NewPackageStore(db)
	p := catalog.Package{
		ID:            idgen.UUID{}.New(),
		Code:          pkgCode,
		Name:          pkgName,
		Description:   pkgDesc,
		Price:         pkgPrice,
		DiscountPrice: pkgDiscount,
		Currency:      pkgCurrency,
		DurationDays:  pkgDuration,
		JobPostsQuota: pkgJobPosts,
		FeaturedQuota: pkgFeatured,
		UrgentQuota:   pkgUrgent,
		CVViewsQuota:  pkgCVViews,
		Active:        true,
	}

	if err := store.Create(context.Background(), p); err != nil {
		if errors.Is(err, ports.ErrDuplicate) {
			return fmt.Errorf("package code %q already exists", pkgCode)
		}
		return fmt.Errorf("create package: %w", err)
	}

	fmt.Printf("Created package %s (%s)\n", p.Code, p.ID)
	return nil
}

// seedPackage is the YAML shape of one catalog entry in a seed file.
type seedPackage struct {
	Code          string `yaml:"code"`
	Name          string `yaml:"name"`
	Description   string `yaml:"description"`
	Price         int64  `yaml:"price"`
	DiscountPrice int64  `yaml:"discount_price"`
	Currency      string `yaml:"currency"`
	DurationDays  int    `yaml:"duration_days"`
	JobPostsQuota int64  `yaml:"job_posts_quota"`
	FeaturedQuota int64  `yaml:"featured_quota"`
	UrgentQuota   int64  `yaml:"urgent_quota"`
	CVViewsQuota  int64  `yaml:"cv_views_quota"`
}

func runPackagesSeed(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(seedFile)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}

	var entries []seedPackage
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	store := sqlite.NewPackageStore(db)
	ids := idgen.UUID{}
	ctx := context.Background()

	created, skipped := 0, 0
	for _, e := range entries {
		if e.Code == "" || e.Name == "" || e.Price <= 0 {
			return fmt.Errorf("seed entry %q: code, name and a positive price are required", e.Code)
		}
		currency := e.Currency
		if currency == "" {
			currency = "VND"
		}
		duration := e.DurationDays
		if duration <= 0 {
			duration = 30
		}

		p := catalog.Package{
			ID:            ids.New(),
			Code:          e.Code,
			Name:          e.Name,
			Description:   e.Description,
			Price:         e.Price,
			DiscountPrice: e.DiscountPrice,
			Currency:      currency,
			DurationDays:  duration,
			JobPostsQuota: e.JobPostsQuota,
			FeaturedQuota: e.FeaturedQuota,
			UrgentQuota:   e.UrgentQuota,
			CVViewsQuota:  e.CVViewsQuota,
			Active:        true,
		}

		if err := store.Create(ctx, p); err != nil {
			if errors.Is(err, ports.ErrDuplicate) {
				skipped++
				continue
			}
			return fmt.Errorf("seed %s: %w", e.Code, err)
		}
		created++
	}

	fmt.Printf("Seeded %d packages (%d already present)\n", created, skipped)
	return nil
}
