package spotify

import "regexp"

var trackLinkPattern = regexp.MustCompile(`https?://open\.spotify\.com/track/([0-9a-zA-Z]+)`)

// FindTrackLink returns the track id of the first Spotify track link in
// the message, or "" when none is present.
func FindTrackLink(message string) string {
	m := trackLinkPattern.FindStringSubmatch(message)
	if m == nil {
		return ""
	}
	return m[1]
}

// TrackURI converts a track id to the URI form the player APIs expect.
func TrackURI(id string) string { return "spotify:track:" + id }

// TrackURL returns the public web link for a track.
func TrackURL(id string) string { return "https://open.spotify.com/track/" + id }

// PlaylistURL returns the public web link for a playlist.
func PlaylistURL(id string) string { return "https://open.spotify.com/playlist/" + id }
