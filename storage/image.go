package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"postboard/domain"
	"postboard/errs"
)

// Backend is where image bytes end up. Put returns the public URL of the stored object,
// Key maps such a URL back to its key and reports false for URLs the backend didn't hand out.
type Backend interface {
	Put(ctx context.Context, key, contentType string, body io.ReadSeeker) (string, error)
	Key(url string) (string, bool)
	Remove(ctx context.Context, url string) error
}

// ImageService manages Images.
// It implements the domain.ImageService interface.
type ImageService struct {
	imageValidator
}

// imageValidator runs validations on incoming Image data.
// On success, it passes the data on to the backend.
// Otherwise, it returns the error of the validation that has failed.
type imageValidator struct {
	backend Backend
}

// NewImageService returns an instance of ImageService storing into backend.
func NewImageService(backend Backend) *ImageService {
	return &ImageService{
		imageValidator{
			backend: backend,
		},
	}
}

// Ensure the ImageService struct properly implements the domain.ImageService interface.
// If it does not, then this expression becomes invalid and won't compile.
var _ domain.ImageService = &ImageService{}

// Create runs validations needed for storing uploaded images and hands them to the backend.
// On success img.URL is set.
func (iv *imageValidator) Create(ctx context.Context, img *domain.Image) error {
	err := runImageValFns(img,
		iv.ownerValid,
		iv.extensionValid,
		iv.belowMaxSize,
		iv.contentTypeValid,
		iv.contentTypeExtensionMatch,
		iv.fileNameUnique,
	)
	if err != nil {
		return err
	}
	url, err := iv.backend.Put(ctx, img.Key(), img.ContentType, img.File)
	if err != nil {
		return fmt.Errorf("storing image %s: %w", img.Key(), err)
	}
	img.URL = url
	return nil
}

// Delete removes a previously stored image of the given owner. URLs the backend
// didn't hand out, and images stored for anybody else, are ignored.
func (iv *imageValidator) Delete(ctx context.Context, ownerType string, ownerID int, url string) error {
	if url == "" || ownerID <= 0 {
		return nil
	}
	key, ok := iv.backend.Key(url)
	if !ok || !strings.HasPrefix(key, domain.OwnerPrefix(ownerType, ownerID)) {
		return nil
	}
	return iv.backend.Remove(ctx, url)
}

// runImageValFns runs any number of functions of type imageValFn on the passed in Image object.
func runImageValFns(img *domain.Image, fns ...imageValFn) error {
	for _, fn := range fns {
		if err := fn(img); err != nil {
			return err
		}
	}
	return nil
}

// A imageValFn is any function that takes in a pointer to a domain.Image object and returns an error.
type imageValFn func(img *domain.Image) error

func (iv *imageValidator) ownerValid(img *domain.Image) error {
	if img.OwnerType != domain.OwnerTypePost && img.OwnerType != domain.OwnerTypeUser {
		return errs.Errorf(errs.EINVALID, "Unknown image owner %q.", img.OwnerType)
	}
	if img.OwnerID <= 0 {
		return errs.IdInvalid
	}
	if img.File == nil {
		return errs.Errorf(errs.EINVALID, "An image file is required.")
	}
	return nil
}

// belowMaxSize makes sure that the image to be uploaded does not exceed domain.MaxUploadSize.
func (iv *imageValidator) belowMaxSize(img *domain.Image) error {
	size, err := img.File.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if err = resetFilePointer(img); err != nil {
		return err
	}
	if size == 0 {
		return errs.Errorf(errs.EINVALID, "Image %s is empty.", img.Filename)
	}
	if size > domain.MaxUploadSize {
		return errs.Errorf(errs.EINVALID, "Image %s exceeds upload size limit of %dMB.",
			img.Filename, domain.MaxUploadSize>>20)
	}
	return nil
}

// contentTypeValid sniffs the first bytes of the image and makes sure it's a png, jpeg or gif.
func (iv *imageValidator) contentTypeValid(img *domain.Image) error {
	buffer := make([]byte, 512)
	n, err := img.File.Read(buffer)
	if err != nil && err != io.EOF {
		return err
	}
	if err = resetFilePointer(img); err != nil {
		return err
	}
	contentType := http.DetectContentType(buffer[:n])
	switch contentType {
	case "image/jpeg", "image/png", "image/gif":
	default:
		return errs.Errorf(errs.EINVALID,
			"Image %s invalid content-type, must be image/jpeg, image/png or image/gif.", img.Filename)
	}
	img.ContentType = contentType
	return nil
}

// contentTypeExtensionMatch makes sure that the image's filename extension and content type match.
func (iv *imageValidator) contentTypeExtensionMatch(img *domain.Image) error {
	contentType := strings.TrimPrefix(img.ContentType, "image/")
	ext := strings.TrimPrefix(img.Extension, ".")
	if contentType != ext {
		return errs.Errorf(errs.EINVALID, "Image %s content-type %s does not match extension %s.",
			img.Filename, img.ContentType, img.Extension)
	}
	return nil
}

// extensionValid makes sure that the image to be uploaded has the extension .jpeg,
// .jpg, .png or .gif. If the extension is .jpg it will be renamed to .jpeg for consistency.
func (iv *imageValidator) extensionValid(img *domain.Image) error {
	ext := strings.ToLower(filepath.Ext(img.Filename))
	switch ext {
	case ".png", ".jpeg", ".gif":
	case ".jpg":
		ext = ".jpeg"
	default:
		return errs.Errorf(errs.EINVALID, "Image %s invalid extension, must be .jpeg, .png or .gif.", img.Filename)
	}
	img.Extension = ext
	return nil
}

// fileNameUnique replaces the image's name with a random one.
func (iv *imageValidator) fileNameUnique(img *domain.Image) error {
	img.Filename = uuid.NewString() + img.Extension
	return nil
}

// resetFilePointer sets the file pointer back to beginning of the file,
// so that subsequent reads can properly read from the beginning again.
func resetFilePointer(img *domain.Image) error {
	_, err := img.File.Seek(0, io.SeekStart)
	return err
}
