/*
Package disk loads images from the local filesystem for the prefetch cache.

Backend.Fetch opens one file, enforces a size limit, reads it in chunks while
honouring the context, and optionally checks that the bytes decode as a
GIF, JPEG, PNG, BMP or WebP image:

	backend := disk.NewBackend(&disk.Config{
		MaxItemSize:  64 << 20,
		VerifyDecode: true,
	}, logger)

	img, err := backend.Fetch(ctx, "/photos/IMG_0001.jpg")
	if errors.HasCode(err, errors.ErrCodeItemNotFound) {
		// the file vanished since the folder was listed
	}

Errors carry ITEM_NOT_FOUND, ITEM_TOO_LARGE or FETCH_FAILED codes. A context
error is returned unchanged so the cache can classify it as a timeout.
*/
package disk
