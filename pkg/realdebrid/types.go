package realdebrid

import (
	"time"
)

type Torrent struct {
	ID       string   `json:"id"`
	Filename string   `json:"filename"`
	Hash     string   `json:"hash"`
	Bytes    int64    `json:"bytes"`
	Status   string   `json:"status"`
	Progress float64  `json:"progress"`
	Speed    int64    `json:"speed"`
	Seeders  int      `json:"seeders"`
	Added    string   `json:"added"`
	Links    []string `json:"links"`
}

// AddedTime parses the service timestamp, zero time when absent or
// malformed.
func (t *Torrent) AddedTime() time.Time {
	if t.Added == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.000Z", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, t.Added); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// Profile is the authenticated account, from /user.
type Profile struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Premium  int64  `json:"premium"`
	Type     string `json:"type"`
}

// ActiveCount reports the account's running torrents against its hard
// service limit, from /torrents/activeCount.
type ActiveCount struct {
	Active int `json:"nb"`
	Limit  int `json:"limit"`
}

type addMagnetResponse struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

type errorResponse struct {
	Error     string `json:"error"`
	ErrorCode int    `json:"error_code"`
}

type Error struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e *Error) Error() string {
	return e.Message
}

var TorrentNotFoundError = &Error{
	Message: "torrent not found",
	Code:    "torrent_not_found",
}

var InfringingFileError = &Error{
	Message: "infringing file refused by the service",
	Code:    "infringing_file",
}

var TooManyActiveDownloadsError = &Error{
	Message: "too many active downloads",
	Code:    "too_many_active_downloads",
}
