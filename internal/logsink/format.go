package logsink

import "fmt"

// DateFolderFormat lays blobs out as yyyy/mm/dd.
const DateFolderFormat = "%d/%02d/%02d"

func FormatDateFolder(year int, month int, day int) string {
	return fmt.Sprintf(DateFolderFormat, year, month, day)
}
