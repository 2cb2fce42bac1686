package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/andrewbassily0/Dashboard-bot/internal/form"
	"github.com/andrewbassily0/Dashboard-bot/internal/models"
	"github.com/andrewbassily0/Dashboard-bot/internal/upload"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// errRowsNotCompleted makes the process exit non-zero when a row ended
// partial or failed. The table already explains why.
var errRowsNotCompleted = errors.New("some rows did not complete")

// uploadOptions holds the upload command flags
type uploadOptions struct {
	formSource  string
	selector    string
	rows        []string
	fields      []string
	addRows     int
	baseURL     string
	endpoint    string
	locale      string
	idStrategy  string
	csrfCookie  string
	concurrency int
	timeout     time.Duration
	out         string
}

var uploadOpts = uploadOptions{}

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload images for the rows of a request form",
	Long: `Loads a request form from a URL or a file, optionally adds item rows,
uploads the images given for each row and prints every row's final status.

Rows added with --add-rows are referenced as @1, @2, ... in --row and --set.

Example:
  rowupload upload --form http://localhost:8000/requests/new \
    --add-rows 1 --row row_1=front.jpg,back.jpg --row @1=engine.png`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runUpload(cmd.Context(), uploadOpts, cmd.OutOrStdout())
	},
}

func registerUploadFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&uploadOpts.formSource, "form", "", "Request form URL or HTML file (required)")
	f.StringVar(&uploadOpts.selector, "selector", form.DefaultFormSelector, "CSS selector of the form element")
	f.StringArrayVar(&uploadOpts.rows, "row", nil, "Files for a row as id=path[,path...] (repeatable)")
	f.StringArrayVar(&uploadOpts.fields, "set", nil, "Fill a row field as id:name=value (repeatable)")
	f.IntVar(&uploadOpts.addRows, "add-rows", 0, "Number of item rows to add before uploading")
	f.StringVar(&uploadOpts.baseURL, "base-url", "", "Server URL (defaults to the form URL's origin)")
	f.StringVar(&uploadOpts.endpoint, "endpoint", upload.DefaultEndpoint, "Upload endpoint path")
	f.StringVar(&uploadOpts.locale, "locale", form.DefaultLocale, "Status label locale (ar, en)")
	f.StringVar(&uploadOpts.idStrategy, "row-ids", "timestamp", "Identifiers for added rows: timestamp or random")
	f.StringVar(&uploadOpts.csrfCookie, "csrf-cookie", "csrftoken", "Name of the CSRF cookie")
	f.IntVar(&uploadOpts.concurrency, "concurrency", 0, "Max uploads in flight per row (0 = unbounded)")
	f.DurationVar(&uploadOpts.timeout, "timeout", 0, "Per-upload request timeout (0 = none)")
	f.StringVarP(&uploadOpts.out, "out", "o", "", "Write the resulting form HTML to this file")
	_ = cmd.MarkFlagRequired("form")
}

// rowFiles is one parsed --row flag
type rowFiles struct {
	ref   string
	paths []string
}

func parseRowFlag(v string) (rowFiles, error) {
	ref, list, ok := strings.Cut(v, "=")
	ref = strings.TrimSpace(ref)
	if !ok || ref == "" {
		return rowFiles{}, fmt.Errorf("invalid --row %q: want id=path[,path...]", v)
	}
	var paths []string
	for _, p := range strings.Split(list, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return rowFiles{ref: ref, paths: paths}, nil
}

// resolveRow maps @n to the n-th added row.
func resolveRow(ref string, added []string) (string, error) {
	if !strings.HasPrefix(ref, "@") {
		return ref, nil
	}
	n, err := strconv.Atoi(ref[1:])
	if err != nil || n < 1 || n > len(added) {
		return "", fmt.Errorf("row %s does not name an added row (added %d)", ref, len(added))
	}
	return added[n-1], nil
}

func runUpload(ctx context.Context, opts uploadOptions, stdout io.Writer) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("creating cookie jar: %w", err)
	}
	client := &http.Client{Jar: jar}

	doc, baseURL, err := loadForm(ctx, client, opts)
	if err != nil {
		return err
	}

	// A form read from disk never set the CSRF cookie; send the page token
	// as the cookie the way the browser would hold it.
	if base, err := url.Parse(baseURL); err == nil && doc.CSRFToken() != "" && !hasCookie(jar, base, opts.csrfCookie) {
		jar.SetCookies(base, []*http.Cookie{{Name: opts.csrfCookie, Value: doc.CSRFToken(), Path: "/"}})
	}

	uploader, err := upload.NewHTTPUploader(baseURL, client, doc,
		upload.WithEndpoint(opts.endpoint),
		upload.WithRequestTimeout(opts.timeout))
	if err != nil {
		return err
	}

	gen := upload.TimestampRowIDs()
	switch opts.idStrategy {
	case "", "timestamp":
	case "random":
		gen = upload.RandomRowIDs()
	default:
		return fmt.Errorf("unknown --row-ids %q", opts.idStrategy)
	}

	coord := upload.NewCoordinator(uploader,
		upload.WithLogger(logger),
		upload.WithConcurrency(opts.concurrency),
		upload.WithRowIDGenerator(gen))
	if !coord.Init(doc, opts.selector) {
		return fmt.Errorf("form %q not found", opts.selector)
	}

	var added []string
	for i := 0; i < opts.addRows; i++ {
		id := coord.AddNewItemRow(doc.Query(form.AddRowSelector))
		if id == "" {
			return errors.New("form has no row template to add rows from")
		}
		added = append(added, id)
		logger.Debug("row added", zap.String("row", id))
	}

	if err := fillFields(doc, opts.fields, added); err != nil {
		return err
	}

	for _, flag := range opts.rows {
		rf, err := parseRowFlag(flag)
		if err != nil {
			return err
		}
		rowID, err := resolveRow(rf.ref, added)
		if err != nil {
			return err
		}
		input := doc.RowFileInput(rowID)
		if input == nil {
			return fmt.Errorf("row %s has no multi-file input", rowID)
		}

		files := make([]form.File, 0, len(rf.paths))
		for _, p := range rf.paths {
			f, err := form.FileFromPath(p)
			if err != nil {
				return err
			}
			files = append(files, f)
		}
		logger.Info("uploading row", zap.String("row", rowID), zap.Int("files", len(files)))
		doc.SelectFiles(ctx, input, files)
	}

	coord.Wait()

	incomplete := printStatuses(stdout, doc, coord)

	if opts.out != "" {
		if err := writeForm(doc, opts.out); err != nil {
			return err
		}
	}

	if incomplete > 0 {
		return errRowsNotCompleted
	}
	return nil
}

func loadForm(ctx context.Context, client *http.Client, opts uploadOptions) (*form.Document, string, error) {
	baseURL := opts.baseURL
	var body io.ReadCloser

	if strings.HasPrefix(opts.formSource, "http://") || strings.HasPrefix(opts.formSource, "https://") {
		u, err := url.Parse(opts.formSource)
		if err != nil {
			return nil, "", fmt.Errorf("invalid form URL: %w", err)
		}
		if baseURL == "" {
			baseURL = (&url.URL{Scheme: u.Scheme, Host: u.Host}).String()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.formSource, nil)
		if err != nil {
			return nil, "", err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, "", fmt.Errorf("fetching form: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, "", fmt.Errorf("fetching form: %s", resp.Status)
		}
		body = resp.Body
	} else {
		if baseURL == "" {
			return nil, "", errors.New("--base-url is required when --form is a file")
		}
		f, err := os.Open(opts.formSource)
		if err != nil {
			return nil, "", fmt.Errorf("opening form: %w", err)
		}
		body = f
	}
	defer body.Close()

	doc, err := form.Parse(body, form.WithLocale(opts.locale))
	if err != nil {
		return nil, "", fmt.Errorf("parsing form: %w", err)
	}
	return doc, baseURL, nil
}

// fillFields applies --set id:name=value flags.
func fillFields(doc *form.Document, fields []string, added []string) error {
	for _, flag := range fields {
		target, value, ok := strings.Cut(flag, "=")
		ref, name, ok2 := strings.Cut(target, ":")
		if !ok || !ok2 || ref == "" || name == "" {
			return fmt.Errorf("invalid --set %q: want id:name=value", flag)
		}
		rowID, err := resolveRow(ref, added)
		if err != nil {
			return err
		}
		field := doc.Query(fmt.Sprintf(`[data-row-id=%q] [name=%q]`, rowID, name))
		if field == nil {
			return fmt.Errorf("row %s has no field %q", rowID, name)
		}
		doc.SetValue(field, value)
	}
	return nil
}

func hasCookie(jar http.CookieJar, u *url.URL, name string) bool {
	for _, c := range jar.Cookies(u) {
		if c.Name == name {
			return true
		}
	}
	return false
}

// printStatuses writes one line per row and returns how many rows ended
// partial or failed.
func printStatuses(w io.Writer, doc *form.Document, coord *upload.Coordinator) int {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROW\tSTATUS\tFILES\tLABEL")

	incomplete := 0
	for _, id := range doc.RowIDs() {
		state := coord.RowStatus(id)
		label, _, _ := doc.StatusText(id)
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", id, state.Status, len(state.Files), label)
		if state.Status == models.UploadStatusFailed || state.Status == models.UploadStatusPartial {
			incomplete++
		}
	}
	tw.Flush()
	return incomplete
}

func writeForm(doc *form.Document, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := doc.Render(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
