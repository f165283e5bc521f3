package profiles

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"rolodex/internal/recipient/models"
	"rolodex/pkg/domain"
)

// HTTPSource fetches profiles from the directory service.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type profilePayload struct {
	GivenName    string `json:"given_name"`
	FamilyName   string `json:"family_name"`
	ProfileKey   string `json:"profile_key"`
	Capabilities struct {
		StorageService   uint8 `json:"storage_service"`
		DeleteSync       uint8 `json:"delete_sync"`
		VersionedProfile uint8 `json:"versioned_profile"`
	} `json:"capabilities"`
}

func (s *HTTPSource) Fetch(ctx context.Context, sid domain.ServiceID) (Profile, error) {
	target := fmt.Sprintf("%s/v1/profiles/%s", s.baseURL, url.PathEscape(sid.String()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("build profile request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("fetch profile %s: %w", sid, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Not everyone publishes a profile.
		return Profile{}, nil
	}
	if resp.StatusCode == http.StatusGone {
		return Profile{}, ErrUnregistered
	}
	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("fetch profile %s: status %d", sid, resp.StatusCode)
	}

	var payload profilePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Profile{}, fmt.Errorf("decode profile %s: %w", sid, err)
	}

	profile := Profile{
		GivenName:  payload.GivenName,
		FamilyName: payload.FamilyName,
		Capabilities: models.Capabilities{
			StorageService:   payload.Capabilities.StorageService,
			DeleteSync:       payload.Capabilities.DeleteSync,
			VersionedProfile: payload.Capabilities.VersionedProfile,
		},
	}
	if payload.ProfileKey != "" {
		key, err := base64.StdEncoding.DecodeString(payload.ProfileKey)
		if err != nil {
			return Profile{}, fmt.Errorf("decode profile key for %s: %w", sid, err)
		}
		profile.Key = key
	}
	return profile, nil
}
