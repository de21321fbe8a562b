package update

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/pstvault/pstvault/internal/config"
)

const (
	githubAPIURL  = "https://api.github.com/repos/pstvault/pstvault/releases/latest"
	cacheFileName = "update_check.json"
	cacheDuration = 1 * time.Hour
)

// Release is the subset of a GitHub release the updater needs.
type Release struct {
	TagName string  `json:"tag_name"`
	Body    string  `json:"body"`
	Assets  []Asset `json:"assets"`
}

// Asset is a downloadable file attached to a release.
type Asset struct {
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// UpdateInfo describes an available update.
type UpdateInfo struct {
	CurrentVersion string
	LatestVersion  string
	DownloadURL    string
	AssetName      string
	Size           int64
	Checksum       string
	IsDevBuild     bool
}

// CheckForUpdate returns download details for the latest release when it is
// newer than currentVersion, or nil when already up to date. Results are
// cached for an hour unless forceCheck is set. For dev builds the latest
// release is always reported; installing it is the caller's decision.
func CheckForUpdate(currentVersion string, forceCheck bool) (*UpdateInfo, error) {
	dev := isDevBuild(currentVersion)

	if !forceCheck && !dev {
		if latest, fresh := cachedLatest(); fresh && !isNewer(latest, currentVersion) {
			return nil, nil
		}
	}

	release, err := fetchLatestRelease()
	if err != nil {
		return nil, fmt.Errorf("check for updates: %w", err)
	}
	saveCache(release.TagName)

	if !dev && !isNewer(release.TagName, currentVersion) {
		return nil, nil
	}

	version := strings.TrimPrefix(release.TagName, "v")
	assetName := fmt.Sprintf("pstvault_%s_%s_%s.tar.gz", version, runtime.GOOS, runtime.GOARCH)
	asset, checksumsAsset := findAssets(release.Assets, assetName)
	if asset == nil {
		return nil, fmt.Errorf("no release asset found for %s/%s", runtime.GOOS, runtime.GOARCH)
	}

	var checksum string
	if checksumsAsset != nil {
		checksum, _ = fetchChecksumFromFile(checksumsAsset.BrowserDownloadURL, assetName)
	}
	if checksum == "" {
		checksum = extractChecksum(release.Body, assetName)
	}

	return &UpdateInfo{
		CurrentVersion: currentVersion,
		LatestVersion:  release.TagName,
		DownloadURL:    asset.BrowserDownloadURL,
		AssetName:      asset.Name,
		Size:           asset.Size,
		Checksum:       checksum,
		IsDevBuild:     dev,
	}, nil
}

// findAssets locates the platform binary and the checksums file among the
// release assets.
func findAssets(assets []Asset, assetName string) (asset *Asset, checksumsAsset *Asset) {
	for i := range assets {
		a := &assets[i]
		if a.Name == assetName {
			asset = a
		}
		if a.Name == "SHA256SUMS" || a.Name == "checksums.txt" {
			checksumsAsset = a
		}
	}
	return asset, checksumsAsset
}

func fetchLatestRelease() (*Release, error) {
	req, err := http.NewRequest("GET", githubAPIURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "pstvault-update")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned %s", resp.Status)
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, err
	}
	return &release, nil
}

// extractChecksum pulls the SHA-256 for assetName out of sha256sum-formatted
// text ("checksum  filename", with an optional * binary-mode prefix).
func extractChecksum(body, assetName string) string {
	re := regexp.MustCompile(`(?i)^[a-f0-9]{64}$`)
	for _, line := range strings.Split(body, "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) < 2 {
			continue
		}
		if strings.TrimPrefix(fields[1], "*") != assetName {
			continue
		}
		if re.MatchString(fields[0]) {
			return strings.ToLower(fields[0])
		}
	}
	return ""
}

type cachedCheck struct {
	CheckedAt time.Time `json:"checked_at"`
	Version   string    `json:"version"`
}

func cachePath() string {
	return filepath.Join(config.DefaultHome(), cacheFileName)
}

// cachedLatest returns the last release tag seen and whether the cache entry
// is still fresh.
func cachedLatest() (string, bool) {
	data, err := os.ReadFile(cachePath())
	if err != nil {
		return "", false
	}
	var cached cachedCheck
	if err := json.Unmarshal(data, &cached); err != nil {
		return "", false
	}
	if time.Since(cached.CheckedAt) >= cacheDuration {
		return "", false
	}
	return cached.Version, true
}

func saveCache(version string) {
	data, err := json.Marshal(cachedCheck{CheckedAt: time.Now(), Version: version})
	if err != nil {
		return
	}
	path := cachePath()
	os.MkdirAll(filepath.Dir(path), 0755) //nolint:errcheck
	os.WriteFile(path, data, 0600)        //nolint:errcheck
}

// gitDescribeSuffix matches the git describe tail of untagged build versions,
// e.g. "0.3.1-4-g1a2b3c" or "0.3.1-4-g1a2b3c-dirty".
var gitDescribeSuffix = regexp.MustCompile(`-\d+-g[0-9a-f]+(-dirty)?$`)

// releaseVersion reduces a build version string to canonical semver with a
// "v" prefix. Git-describe versions reduce to their base tag. Returns ""
// when no release version can be derived.
func releaseVersion(v string) string {
	v = strings.TrimPrefix(v, "v")
	v = gitDescribeSuffix.ReplaceAllString(v, "")
	if !semver.IsValid("v" + v) {
		return ""
	}
	return "v" + v
}

// isDevBuild reports whether v identifies an untagged build: a bare string
// like "dev" or a commit hash, or a git-describe version past its base tag.
func isDevBuild(v string) bool {
	if releaseVersion(v) == "" {
		return true
	}
	return gitDescribeSuffix.MatchString(strings.TrimPrefix(v, "v"))
}

// isNewer reports whether latest is a strictly newer release than current.
// Comparison follows semver ordering; prereleases sort before their release.
func isNewer(latest, current string) bool {
	l, c := releaseVersion(latest), releaseVersion(current)
	if l == "" || c == "" {
		return false
	}
	return semver.Compare(l, c) > 0
}

// FormatSize formats bytes as a human-readable string.
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
