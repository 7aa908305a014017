package mailfetch

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"triage-agent/internal/errs"
)

// microsoftEndpoint is the v2.0 OAuth2 token endpoint for the common
// Microsoft identity platform (work, school, and personal accounts).
var microsoftEndpoint = oauth2.Endpoint{
	AuthURL:  "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
	TokenURL: "https://login.microsoftonline.com/common/oauth2/v2.0/token",
}

// GraphScopes is the minimal delegated permission set the adapter needs:
// read/write mail and offline access for refresh tokens.
var GraphScopes = []string{
	"offline_access",
	"Mail.ReadWrite",
}

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// GraphConfig holds the OAuth2 application registration and token the
// adapter authenticates with.
type GraphConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	AccessToken  string
	UserPrincipal string // mailbox to operate on, or "me" for the signed-in user

	RequestTimeout time.Duration
}

// GraphAdapter implements MailCapability against the Microsoft Graph REST
// API. There is no generated Go SDK for Graph in this module's dependency
// set, so every call is a hand-rolled HTTP request in the style already
// used for the classifier's own vendor-less LLM client.
type GraphAdapter struct {
	httpClient *http.Client
	userBase   string
	limiter    *RateLimiter
}

// NewGraphAdapter builds an adapter authenticated via OAuth2 against the
// Microsoft identity platform, repointing the teacher's Google-endpoint
// oauth2.Config construction at Microsoft's v2.0 endpoint instead.
func NewGraphAdapter(ctx context.Context, cfg *GraphConfig, limiter *RateLimiter) (*GraphAdapter, error) {
	oauthConfig := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       GraphScopes,
		Endpoint:     microsoftEndpoint,
	}

	token := &oauth2.Token{
		AccessToken:  cfg.AccessToken,
		RefreshToken: cfg.RefreshToken,
		TokenType:    "Bearer",
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	httpClient := oauthConfig.Client(ctx, token)
	httpClient.Timeout = timeout

	userBase := "/me"
	if cfg.UserPrincipal != "" && cfg.UserPrincipal != "me" {
		userBase = "/users/" + url.PathEscape(cfg.UserPrincipal)
	}

	if limiter == nil {
		limiter = DefaultGraphRateLimiter()
	}

	return &GraphAdapter{httpClient: httpClient, userBase: userBase, limiter: limiter}, nil
}

// graphMessage is the wire shape of a Graph message resource, trimmed to
// the fields the fetcher's fixed projection needs.
type graphMessage struct {
	ID                string `json:"id"`
	ConversationID    string `json:"conversationId"`
	ConversationIndex string `json:"conversationIndex"` // base64
	Subject           string `json:"subject"`
	From              struct {
		EmailAddress struct {
			Address string `json:"address"`
			Name    string `json:"name"`
		} `json:"emailAddress"`
	} `json:"from"`
	ReceivedDateTime time.Time `json:"receivedDateTime"`
	BodyPreview      string    `json:"bodyPreview"`
	Flag             struct {
		FlagStatus string `json:"flagStatus"`
	} `json:"flag"`
	ParentFolderID string `json:"parentFolderId"`
	WebLink        string `json:"webLink"`
	Importance     string `json:"importance"`
	IsRead         bool   `json:"isRead"`
	HasAttachments bool   `json:"hasAttachments"`
}

func (m graphMessage) toMessage() Message {
	idx, _ := base64.StdEncoding.DecodeString(m.ConversationIndex)
	return Message{
		ID:                m.ID,
		ConversationID:    m.ConversationID,
		ConversationIndex: idx,
		Subject:           m.Subject,
		FromAddress:       strings.ToLower(m.From.EmailAddress.Address),
		FromName:          m.From.EmailAddress.Name,
		ReceivedAt:        m.ReceivedDateTime,
		BodyPreview:       m.BodyPreview,
		Flag:              Flag{Status: m.Flag.FlagStatus},
		ParentFolderID:    m.ParentFolderID,
		WebLink:           m.WebLink,
		Importance:        m.Importance,
		IsRead:            m.IsRead,
		HasAttachments:    m.HasAttachments,
	}
}

const messageSelect = "id,conversationId,conversationIndex,subject,from,receivedDateTime,bodyPreview,flag,parentFolderId,webLink,importance,isRead,hasAttachments"

// do performs a rate-limited Graph REST call and decodes the JSON body
// into out (when non-nil), translating non-2xx statuses into the
// appropriate errs.MailAPIError subkind.
func (g *GraphAdapter) do(ctx context.Context, method, path string, body any, out any) (*http.Response, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal graph request: %w", err)
		}
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, graphBaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build graph request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, errs.NewMailAPIError(path, errs.MailSubkindTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusGone:
		resp.Body.Close()
		return nil, errs.NewMailAPIError(path, errs.MailSubkindDeltaTokenExpired, fmt.Errorf("delta token expired"))
	case resp.StatusCode == http.StatusPreconditionFailed:
		resp.Body.Close()
		return nil, errs.NewMailAPIError(path, errs.MailSubkindConflict, fmt.Errorf("etag precondition failed"))
	case resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, errs.NewMailAPIError(path, errs.MailSubkindRateLimited, fmt.Errorf("rate limited"))
	case resp.StatusCode >= 500:
		resp.Body.Close()
		return nil, errs.NewMailAPIError(path, errs.MailSubkindTransient, fmt.Errorf("graph server error %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		defer resp.Body.Close()
		return nil, errs.NewMailAPIError(path, errs.MailSubkindTransient, fmt.Errorf("graph error %d", resp.StatusCode))
	}

	if out != nil {
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, errs.NewMailAPIError(path, errs.MailSubkindTransient, fmt.Errorf("decode graph response: %w", err))
		}
	} else {
		resp.Body.Close()
	}
	return resp, nil
}

type graphMessagesPage struct {
	Value    []graphMessage `json:"value"`
	NextLink string         `json:"@odata.nextLink"`
	DeltaLink string        `json:"@odata.deltaLink"`
}

// GetDeltaMessages pulls new messages since cursor via Graph's delta
// query. An empty cursor starts a fresh delta window for the folder.
func (g *GraphAdapter) GetDeltaMessages(ctx context.Context, folder, cursor string) (DeltaResult, error) {
	path := cursor
	if path == "" {
		folderID, err := g.GetFolderByPath(ctx, folder, false)
		if err != nil {
			return DeltaResult{}, err
		}
		path = fmt.Sprintf("%s/mailFolders/%s/messages/delta?$select=%s", g.userBase, url.PathEscape(folderID), messageSelect)
	}

	var all []Message
	for {
		var page graphMessagesPage
		if _, err := g.do(ctx, http.MethodGet, strings.TrimPrefix(path, graphBaseURL), nil, &page); err != nil {
			return DeltaResult{}, err
		}
		for _, m := range page.Value {
			all = append(all, m.toMessage())
		}
		if page.NextLink != "" {
			path = strings.TrimPrefix(page.NextLink, graphBaseURL)
			continue
		}
		return DeltaResult{Messages: all, NewCursor: page.DeltaLink}, nil
	}
}

// ListMessages performs a timestamp-window query, used as the delta-cursor
// expiry fallback.
func (g *GraphAdapter) ListMessages(ctx context.Context, folder string, since time.Time) ([]Message, error) {
	folderID, err := g.GetFolderByPath(ctx, folder, false)
	if err != nil {
		return nil, err
	}
	filter := fmt.Sprintf("receivedDateTime ge %s", since.UTC().Format(time.RFC3339))
	path := fmt.Sprintf("%s/mailFolders/%s/messages?$select=%s&$filter=%s&$orderby=receivedDateTime",
		g.userBase, url.PathEscape(folderID), messageSelect, url.QueryEscape(filter))

	var out []Message
	for path != "" {
		var page graphMessagesPage
		if _, err := g.do(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, err
		}
		for _, m := range page.Value {
			out = append(out, m.toMessage())
		}
		path = strings.TrimPrefix(page.NextLink, graphBaseURL)
	}
	return out, nil
}

// GetThreadMessages tops up thread context beyond what the Store already
// has, ordered newest first.
func (g *GraphAdapter) GetThreadMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	filter := fmt.Sprintf("conversationId eq '%s'", conversationID)
	path := fmt.Sprintf("%s/messages?$select=%s&$filter=%s&$orderby=receivedDateTime desc&$top=%d",
		g.userBase, messageSelect, url.QueryEscape(filter), limit)

	var page graphMessagesPage
	if _, err := g.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(page.Value))
	for _, m := range page.Value {
		out = append(out, m.toMessage())
	}
	return out, nil
}

// MoveMessage moves a message to destFolderID. Idempotent: Graph itself
// treats a move to the current folder as a no-op success.
func (g *GraphAdapter) MoveMessage(ctx context.Context, messageID, destFolderID string) error {
	path := fmt.Sprintf("%s/messages/%s/move", g.userBase, url.PathEscape(messageID))
	_, err := g.do(ctx, http.MethodPost, path, map[string]string{"destinationId": destFolderID}, nil)
	return err
}

// SetCategories replaces a message's category set.
func (g *GraphAdapter) SetCategories(ctx context.Context, messageID string, categories []string) error {
	path := fmt.Sprintf("%s/messages/%s", g.userBase, url.PathEscape(messageID))
	_, err := g.do(ctx, http.MethodPatch, path, map[string]any{"categories": categories}, nil)
	return err
}

// addCategoriesMaxAttempts bounds the read-merge-write retry loop
// AddCategories runs on an etag conflict, per the "retried up to 3x"
// contract on errs.ConflictError.
const addCategoriesMaxAttempts = 3

// AddCategories merges categories into a message's existing set. Graph has
// no atomic "append category" verb, so this reads the current set first
// and writes the union back with a conditional If-Match header; a
// concurrent editor racing the read surfaces as a 412, which is retried
// up to addCategoriesMaxAttempts times before giving up with
// errs.ConflictError.
func (g *GraphAdapter) AddCategories(ctx context.Context, messageID string, categories []string) error {
	for attempt := 1; attempt <= addCategoriesMaxAttempts; attempt++ {
		conflict, err := g.tryAddCategories(ctx, messageID, categories)
		if err == nil {
			return nil
		}
		if !conflict {
			return err
		}
	}
	return &errs.ConflictError{MessageID: messageID, Attempts: addCategoriesMaxAttempts}
}

// tryAddCategories runs one read-merge-write attempt. The bool return is
// true when the failure was an etag conflict (412) worth retrying.
func (g *GraphAdapter) tryAddCategories(ctx context.Context, messageID string, categories []string) (conflict bool, err error) {
	var current struct {
		Categories []string `json:"categories"`
		ETag       string   `json:"@odata.etag"`
	}
	getPath := fmt.Sprintf("%s/messages/%s?$select=categories", g.userBase, url.PathEscape(messageID))
	if _, err := g.do(ctx, http.MethodGet, getPath, nil, &current); err != nil {
		return false, err
	}

	merged := map[string]bool{}
	for _, c := range current.Categories {
		merged[c] = true
	}
	for _, c := range categories {
		merged[c] = true
	}
	union := make([]string, 0, len(merged))
	for c := range merged {
		union = append(union, c)
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return false, err
	}
	buf, err := json.Marshal(map[string]any{"categories": union})
	if err != nil {
		return false, fmt.Errorf("marshal graph request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, graphBaseURL+getPath[:strings.Index(getPath, "?")], bytes.NewReader(buf))
	if err != nil {
		return false, fmt.Errorf("build graph request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if current.ETag != "" {
		req.Header.Set("If-Match", current.ETag)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return false, errs.NewMailAPIError("AddCategories", errs.MailSubkindTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusPreconditionFailed {
		return true, errs.NewMailAPIError("AddCategories", errs.MailSubkindConflict, fmt.Errorf("etag precondition failed"))
	}
	if resp.StatusCode >= 300 {
		return false, errs.NewMailAPIError("AddCategories", errs.MailSubkindTransient, fmt.Errorf("graph error %d", resp.StatusCode))
	}
	return false, nil
}

type graphFolder struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// GetFolderByPath resolves a "/"-delimited folder path, creating
// intermediate folders as needed when create is true.
func (g *GraphAdapter) GetFolderByPath(ctx context.Context, path string, create bool) (string, error) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	parentBase := g.userBase + "/mailFolders"
	parentID := ""

	for _, seg := range segments {
		if seg == "" {
			continue
		}
		listPath := fmt.Sprintf("%s?$filter=%s", childFoldersPath(parentBase, parentID), url.QueryEscape(fmt.Sprintf("displayName eq '%s'", seg)))
		var page struct {
			Value []graphFolder `json:"value"`
		}
		if _, err := g.do(ctx, http.MethodGet, listPath, nil, &page); err != nil {
			return "", err
		}

		if len(page.Value) > 0 {
			parentID = page.Value[0].ID
			continue
		}

		if !create {
			return "", errs.NewMailAPIError("GetFolderByPath", errs.MailSubkindTransient, fmt.Errorf("folder %q not found", path))
		}

		var created graphFolder
		if _, err := g.do(ctx, http.MethodPost, childFoldersPath(parentBase, parentID), map[string]string{"displayName": seg}, &created); err != nil {
			return "", err
		}
		parentID = created.ID
	}
	return parentID, nil
}

func childFoldersPath(parentBase, parentID string) string {
	if parentID == "" {
		return parentBase
	}
	return fmt.Sprintf("%s/%s/childFolders", parentBase, url.PathEscape(parentID))
}

// ListSentItems lists the user's recently sent messages, used to warm the
// has-user-replied cache.
func (g *GraphAdapter) ListSentItems(ctx context.Context, since time.Time) ([]Message, error) {
	filter := fmt.Sprintf("sentDateTime ge %s", since.UTC().Format(time.RFC3339))
	path := fmt.Sprintf("%s/mailFolders/SentItems/messages?$select=%s&$filter=%s",
		g.userBase, messageSelect, url.QueryEscape(filter))

	var out []Message
	for path != "" {
		var page graphMessagesPage
		if _, err := g.do(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, err
		}
		for _, m := range page.Value {
			out = append(out, m.toMessage())
		}
		path = strings.TrimPrefix(page.NextLink, graphBaseURL)
	}
	return out, nil
}
