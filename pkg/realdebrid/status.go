package realdebrid

import (
	"github.com/revivarr/revivarr/internal/utils"
)

// Status groups as the service reports them. Every known status belongs
// to exactly one group.
var (
	failedStatuses  = []string{"magnet_error", "error", "virus"}
	stalledStatuses = []string{"dead"}
	waitingStatuses = []string{"waiting_files_selection"}
	activeStatuses  = []string{"magnet_conversion", "queued", "downloading", "compressing", "uploading"}
)

const StatusDownloaded = "downloaded"

func (t *Torrent) IsFailed() bool {
	return utils.Contains(failedStatuses, t.Status)
}

func (t *Torrent) IsStalled() bool {
	return utils.Contains(stalledStatuses, t.Status)
}

func (t *Torrent) IsWaitingSelection() bool {
	return utils.Contains(waitingStatuses, t.Status)
}

func (t *Torrent) IsActive() bool {
	return utils.Contains(activeStatuses, t.Status)
}

func (t *Torrent) IsComplete() bool {
	return t.Status == StatusDownloaded
}

// IsConverting reports the magnet-conversion phase specifically; the
// add flow keeps polling through it before deciding on file selection.
func (t *Torrent) IsConverting() bool {
	return t.Status == "magnet_conversion"
}
