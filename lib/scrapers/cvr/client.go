package cvr

import (
	"bytes"
	"context"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"cvrarchive/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/dgraph-io/badger/v4"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/cvr")

var ErrLoginFailed = fmt.Errorf("Failed to login to your account.")
var ErrSessionExpired = fmt.Errorf("session expired and re-login did not restore it")

type Credentials struct {
	Username string
	Password string
}

type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client
	// LoginPageCheck reports whether a fetched document is actually the
	// login page. the platform never returns an explicit "session expired"
	// status, it just serves the login form, so expiry has to be detected
	// from content. swap this out when the platform markup changes.
	LoginPageCheck func(doc *goquery.Document) bool

	creds Credentials
	cache *pageCache
}

type ClientOptions struct {
	BaseUrl string
	// optional page cache for immutable archive pages, nil disables caching
	Cache *badger.DB
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "scrapers/cvr/http")

	c := &Client{
		BaseUrl:        baseUrl,
		Http:           client,
		LoginPageCheck: IsLoginPage,
	}
	if opts.Cache != nil {
		c.cache = &pageCache{db: opts.Cache, baseUrl: baseUrl}
	}
	return c, nil
}

// IsLoginPage is the default login-page predicate: the platform's login
// form is the only place a password input shows up.
func IsLoginPage(doc *goquery.Document) bool {
	return doc.Find("form input[type=password]").Length() > 0
}

func (c *Client) Login(ctx context.Context, creds Credentials) error {
	ctx, span := tracer.Start(ctx, "client:Login")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		Get("/accounts/login/")
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch login page")
		return err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.SetStatus(codes.Error, "failed to parse login page html")
		return err
	}

	csrftoken := doc.Find("input[name=csrfmiddlewaretoken]").AttrOr("value", "")
	if csrftoken == "" {
		span.SetStatus(codes.Error, "failed to find csrf token")
		return fmt.Errorf("%w: could not find csrf token on login page", ErrLoginFailed)
	}

	_, err = c.Http.R().
		SetContext(ctx).
		SetHeader("referer", c.BaseUrl.JoinPath("/accounts/login/").String()).
		SetFormData(map[string]string{
			"csrfmiddlewaretoken": csrftoken,
			"username":            creds.Username,
			"password":            creds.Password,
		}).
		Post("/accounts/login/")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to make login request")
		return err
	}

	// the login endpoint answers 200 regardless of outcome, so verify by
	// fetching a page that requires a session
	res, err = c.Http.R().
		SetContext(ctx).
		Get("/event/archive/")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to request archive after login")
		return err
	}
	doc, err = goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse post-login html")
		return err
	}
	if c.LoginPageCheck(doc) {
		span.SetStatus(codes.Error, ErrLoginFailed.Error())
		return ErrLoginFailed
	}

	c.creds = creds
	return nil
}

// FetchPage fetches a path through the authenticated session. When the
// response turns out to be the login page, it re-authenticates with the
// stored credentials and retries the same fetch exactly once. A second
// expiry is ErrSessionExpired and fatal for the run.
func (c *Client) FetchPage(ctx context.Context, path string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "client:FetchPage")
	defer span.End()
	span.SetAttributes(attribute.String("path", path))

	// the archive listing grows as events are archived, only the immutable
	// event pages are safe to cache
	useCache := c.cache != nil && !strings.Contains(path, "/archive/")

	if useCache {
		body, err := c.cache.get(ctx, path)
		if err == nil {
			span.SetStatus(codes.Ok, "CACHE HIT")
			return body, nil
		}
		if err != errPageNotCached {
			span.RecordError(err)
		}
	}

	body, expired, err := c.fetchOnce(ctx, path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}
	if expired {
		span.AddEvent("session expired, re-authenticating")
		err := c.Login(ctx, c.creds)
		if err != nil {
			span.SetStatus(codes.Error, "re-login failed")
			return nil, fmt.Errorf("%w: %w", ErrSessionExpired, err)
		}
		body, expired, err = c.fetchOnce(ctx, path)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "fetch failed after re-login")
			return nil, err
		}
		if expired {
			span.SetStatus(codes.Error, ErrSessionExpired.Error())
			return nil, ErrSessionExpired
		}
	}

	if useCache {
		err := c.cache.set(ctx, path, body)
		if err != nil {
			span.RecordError(err)
		}
	}
	return body, nil
}

func (c *Client) fetchOnce(ctx context.Context, path string) (body []byte, expired bool, err error) {
	res, err := c.Http.R().
		SetContext(ctx).
		Get(path)
	if err != nil {
		return nil, false, err
	}
	if res.IsError() {
		return nil, false, fmt.Errorf("fetch %s: %s", path, res.Status())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return nil, false, err
	}
	if c.LoginPageCheck(doc) {
		return nil, true, nil
	}
	return res.Body(), false, nil
}
