package remediate

import (
	"fmt"
	"regexp"
	"time"
)

// nameTimeLayout stamps image names and descriptions.
const nameTimeLayout = "2006-01-02 15:04:05 UTC"

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9()./_-]`)

// SanitizeImageName replaces every character outside [A-Za-z0-9()./_-]
// with an underscore.
func SanitizeImageName(s string) string {
	return unsafeNameChars.ReplaceAllString(s, "_")
}

// ImageName derives the backup image name from the instance display name
// and the backup time.
func ImageName(displayName string, at time.Time) string {
	return SanitizeImageName(displayName + "/" + at.UTC().Format(nameTimeLayout))
}

// ImageDescription is the human readable description of a backup image.
func ImageDescription(displayName, creator string, at time.Time) string {
	return fmt.Sprintf("AMI automatically created from %q %s by %s because instance was stopped",
		displayName, at.UTC().Format(nameTimeLayout), creator)
}
