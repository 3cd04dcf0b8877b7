package results

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/smartclass/backend/internal/apperr"
	"github.com/smartclass/backend/internal/metrics"
	"github.com/smartclass/backend/internal/storage/models"
	"github.com/smartclass/backend/pkg/logger"
)

const (
	DefaultURL      = "https://results.tec-edu.in/"
	NotAvailable    = "Not Available"
	maxPageBytes    = 5 << 20
	subjectColumns  = 7
	browserAgent    = "Mozilla/5.0"
	formContentType = "application/x-www-form-urlencoded"
)

type Config struct {
	URL     string
	Timeout time.Duration
}

type Scraper struct {
	pageURL string
	origin  string
	timeout time.Duration
}

type Request struct {
	RegisterNumber string `json:"register_number"`
	DOB            string `json:"dob"`
}

func (r *Request) Validate() error {
	if strings.TrimSpace(r.RegisterNumber) == "" {
		return apperr.InvalidInput("register_number is required")
	}
	if strings.TrimSpace(r.DOB) == "" {
		return apperr.InvalidInput("dob is required")
	}
	return nil
}

func NewScraper(cfg Config) (*Scraper, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}

	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid results url %q", cfg.URL)
	}

	return &Scraper{
		pageURL: cfg.URL,
		origin:  u.Scheme + "://" + u.Host,
		timeout: cfg.Timeout,
	}, nil
}

// Fetch submits the lookup form and parses the student's grade sheet.
func (s *Scraper) Fetch(ctx context.Context, req Request) (*models.StudentResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	logger.Info("Fetching result", zap.String("register_number", req.RegisterNumber))

	doc, err := s.submit(ctx, req)
	if err != nil {
		metrics.ResultsScraped.WithLabelValues("upstream_error").Inc()
		return nil, apperr.Upstream("results site unavailable", err)
	}

	result, err := ParseResult(doc)
	if err != nil {
		metrics.ResultsScraped.WithLabelValues("not_found").Inc()
		return nil, err
	}

	metrics.ResultsScraped.WithLabelValues("success").Inc()
	logger.Info("Result fetched",
		zap.String("register_number", result.RegisterNumber),
		zap.Int("subjects", len(result.Subjects)),
	)
	return result, nil
}

// submit loads the form page first so the session cookie is set, then posts the lookup.
func (s *Scraper) submit(ctx context.Context, req Request) (*goquery.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	client := &http.Client{Jar: jar}

	first, err := s.newRequest(ctx, http.MethodGet, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(first)
	if err != nil {
		return nil, fmt.Errorf("failed to load results page: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPageBytes))
	resp.Body.Close()

	form := url.Values{}
	form.Set("reg_no", strings.TrimSpace(req.RegisterNumber))
	form.Set("dob", strings.TrimSpace(req.DOB))

	post, err := s.newRequest(ctx, http.MethodPost, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	post.Header.Set("Content-Type", formContentType)

	resp, err = client.Do(post)
	if err != nil {
		return nil, fmt.Errorf("failed to submit result form: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("results site returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

func (s *Scraper) newRequest(ctx context.Context, method string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.pageURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", browserAgent)
	req.Header.Set("Referer", s.pageURL)
	req.Header.Set("Origin", s.origin)
	return req, nil
}

// ParseResult reads the student info table and the subject table from a result page.
func ParseResult(doc *goquery.Document) (*models.StudentResult, error) {
	info := doc.Find("table.table-bordered").First()
	if info.Length() == 0 {
		return nil, apperr.NotFound("result not found")
	}

	student := make(map[string]string)
	info.Find("th").Each(func(_ int, th *goquery.Selection) {
		td := th.NextAllFiltered("td").First()
		if td.Length() > 0 {
			student[strings.TrimSpace(th.Text())] = strings.TrimSpace(td.Text())
		}
	})

	table := doc.Find("table.table-bg").First()
	if table.Length() == 0 {
		return nil, apperr.NotFound("subjects not found")
	}

	subjects := make([]models.SubjectResult, 0)
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		if i == 0 {
			return
		}
		cols := row.Find("td").Map(func(_ int, td *goquery.Selection) string {
			return strings.TrimSpace(td.Text())
		})
		if len(cols) < subjectColumns {
			return
		}
		subjects = append(subjects, models.SubjectResult{
			Semester:   cols[0],
			CourseName: cols[1],
			Code:       cols[2],
			Credits:    cols[3],
			Grade:      cols[4],
			GradePoint: cols[5],
			Result:     cols[6],
		})
	})

	return &models.StudentResult{
		Status:         "success",
		RegisterNumber: student["Registration Number"],
		Name:           student["Name"],
		Degree:         student["Degree"],
		ExamMonth:      student["Month & Year of Examinations"],
		SGPA:           SGPA(subjects),
		Subjects:       subjects,
	}, nil
}

// SGPA is the credit-weighted mean grade point rounded to two places, or NotAvailable
// when a value is not numeric or there are no credits.
func SGPA(subjects []models.SubjectResult) interface{} {
	var credits, weighted float64
	for _, s := range subjects {
		c, err := strconv.ParseFloat(s.Credits, 64)
		if err != nil {
			return NotAvailable
		}
		gp, err := strconv.ParseFloat(s.GradePoint, 64)
		if err != nil {
			return NotAvailable
		}
		credits += c
		weighted += c * gp
	}
	if credits == 0 {
		return NotAvailable
	}
	return math.Round(weighted/credits*100) / 100
}
