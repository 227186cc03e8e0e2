// Package autotune picks the fastest of several interchangeable kernel
// implementations for a problem shape on a device, by benchmarking the
// eligible candidates once and remembering the decision.
//
// Decisions are keyed by a structural fingerprint of the problem (a Key),
// held in memory per device, and optionally persisted through a Store under
// a checksum of the device identity and build. A persisted store whose
// checksum does not match is discarded as a whole.
package autotune

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/goccy/go-json"

	"github.com/samcharles93/kerneltune/internal/tensor"
)

// Family identifies an operation whose candidates are interchangeable.
type Family uint8

const (
	FamilyConvTranspose2d Family = iota + 1
	FamilyMatmul
)

var familyNames = map[Family]string{
	FamilyConvTranspose2d: "conv_transpose2d",
	FamilyMatmul:          "matmul",
}

func (f Family) String() string {
	if name, ok := familyNames[f]; ok {
		return name
	}
	return fmt.Sprintf("family(%d)", uint8(f))
}

func (f Family) Valid() bool {
	_, ok := familyNames[f]
	return ok
}

// ParseFamily accepts the canonical name as well as dashed spellings.
func ParseFamily(s string) (Family, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	if name == "convtranspose2d" {
		name = "conv_transpose2d"
	}
	for f, n := range familyNames {
		if n == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown family %q", s)
}

// Key is the structural fingerprint of a problem instance. Two problems with
// equal keys are the same problem for tuning purposes. The set of key types
// is closed: every implementation lives in this package.
//
// Key values are comparable, so == is structural equality.
type Key interface {
	Family() Family
	String() string
	Validate() error
	fields() []int
}

// ConvTranspose2dKey describes a 2-D transposed convolution. All spatial
// pairs are (height, width).
type ConvTranspose2dKey struct {
	KernelSize  [2]int       `json:"kernel_size"`
	Stride      [2]int       `json:"stride"`
	Padding     [2]int       `json:"padding"`
	PaddingOut  [2]int       `json:"padding_out"`
	Dilation    [2]int       `json:"dilation"`
	Groups      int          `json:"groups"`
	InChannels  int          `json:"in_channels"`
	OutChannels int          `json:"out_channels"`
	Height      int          `json:"height"`
	Width       int          `json:"width"`
	BatchSize   int          `json:"batch_size"`
	HasBias     bool         `json:"has_bias"`
	DType       tensor.DType `json:"dtype"`
}

func (ConvTranspose2dKey) Family() Family { return FamilyConvTranspose2d }

func (k ConvTranspose2dKey) String() string {
	return fmt.Sprintf("n%d_c%d_h%d_w%d_o%d_k%dx%d_s%dx%d_p%dx%d_po%dx%d_d%dx%d_g%d_b%t_%s",
		k.BatchSize, k.InChannels, k.Height, k.Width, k.OutChannels,
		k.KernelSize[0], k.KernelSize[1], k.Stride[0], k.Stride[1],
		k.Padding[0], k.Padding[1], k.PaddingOut[0], k.PaddingOut[1],
		k.Dilation[0], k.Dilation[1], k.Groups, k.HasBias, k.DType)
}

// OutputSize returns the spatial output size of the transposed convolution.
func (k ConvTranspose2dKey) OutputSize() (int, int) {
	out := func(i int, in int) int {
		return (in-1)*k.Stride[i] - 2*k.Padding[i] + k.Dilation[i]*(k.KernelSize[i]-1) + k.PaddingOut[i] + 1
	}
	return out(0, k.Height), out(1, k.Width)
}

func (k ConvTranspose2dKey) Validate() error {
	for i := range 2 {
		switch {
		case k.KernelSize[i] <= 0:
			return fmt.Errorf("%w: kernel size %v", ErrInvalidKey, k.KernelSize)
		case k.Stride[i] <= 0:
			return fmt.Errorf("%w: stride %v", ErrInvalidKey, k.Stride)
		case k.Dilation[i] <= 0:
			return fmt.Errorf("%w: dilation %v", ErrInvalidKey, k.Dilation)
		case k.Padding[i] < 0 || k.PaddingOut[i] < 0:
			return fmt.Errorf("%w: negative padding", ErrInvalidKey)
		case k.PaddingOut[i] >= k.Stride[i] && k.PaddingOut[i] >= k.Dilation[i]:
			return fmt.Errorf("%w: output padding %v must be smaller than stride or dilation", ErrInvalidKey, k.PaddingOut)
		}
	}
	if k.Groups <= 0 || k.InChannels <= 0 || k.OutChannels <= 0 {
		return fmt.Errorf("%w: channels %d->%d groups %d", ErrInvalidKey, k.InChannels, k.OutChannels, k.Groups)
	}
	if k.InChannels%k.Groups != 0 || k.OutChannels%k.Groups != 0 {
		return fmt.Errorf("%w: channels %d->%d not divisible by groups %d", ErrInvalidKey, k.InChannels, k.OutChannels, k.Groups)
	}
	if k.Height <= 0 || k.Width <= 0 || k.BatchSize <= 0 {
		return fmt.Errorf("%w: input %dx%dx%d", ErrInvalidKey, k.BatchSize, k.Height, k.Width)
	}
	if oh, ow := k.OutputSize(); oh <= 0 || ow <= 0 {
		return fmt.Errorf("%w: empty output %dx%d", ErrInvalidKey, oh, ow)
	}
	if !k.DType.Valid() {
		return fmt.Errorf("%w: dtype %v", ErrInvalidKey, k.DType)
	}
	return nil
}

func (k ConvTranspose2dKey) fields() []int {
	bias := 0
	if k.HasBias {
		bias = 1
	}
	return []int{
		k.KernelSize[0], k.KernelSize[1], k.Stride[0], k.Stride[1],
		k.Padding[0], k.Padding[1], k.PaddingOut[0], k.PaddingOut[1],
		k.Dilation[0], k.Dilation[1], k.Groups, k.InChannels, k.OutChannels,
		k.Height, k.Width, k.BatchSize, bias, int(k.DType),
	}
}

// MatmulKey describes C[M,N] = A[M,K] * B[K,N].
type MatmulKey struct {
	M     int          `json:"m"`
	K     int          `json:"k"`
	N     int          `json:"n"`
	DType tensor.DType `json:"dtype"`
}

func (MatmulKey) Family() Family { return FamilyMatmul }

func (k MatmulKey) String() string {
	return fmt.Sprintf("m%d_k%d_n%d_%s", k.M, k.K, k.N, k.DType)
}

func (k MatmulKey) Validate() error {
	if k.M <= 0 || k.K <= 0 || k.N <= 0 {
		return fmt.Errorf("%w: matmul %dx%dx%d", ErrInvalidKey, k.M, k.K, k.N)
	}
	if !k.DType.Valid() {
		return fmt.Errorf("%w: dtype %v", ErrInvalidKey, k.DType)
	}
	return nil
}

func (k MatmulKey) fields() []int {
	return []int{k.M, k.K, k.N, int(k.DType)}
}

// CompareKeys orders keys by family, then field by field.
func CompareKeys(a, b Key) int {
	if c := cmp.Compare(a.Family(), b.Family()); c != 0 {
		return c
	}
	return slices.Compare(a.fields(), b.fields())
}

// EncodeKey renders a key in its persisted form.
func EncodeKey(k Key) ([]byte, error) {
	switch k := k.(type) {
	case ConvTranspose2dKey, MatmulKey:
		return json.Marshal(k)
	case nil:
		return nil, fmt.Errorf("%w: nil key", ErrInvalidKey)
	default:
		return nil, fmt.Errorf("%w: unsupported key type %T", ErrInvalidKey, k)
	}
}

// DecodeKey parses a persisted key of the given family and validates it.
func DecodeKey(f Family, data []byte) (Key, error) {
	var (
		key Key
		err error
	)
	switch f {
	case FamilyConvTranspose2d:
		var k ConvTranspose2dKey
		err = json.Unmarshal(data, &k)
		key = k
	case FamilyMatmul:
		var k MatmulKey
		err = json.Unmarshal(data, &k)
		key = k
	default:
		return nil, fmt.Errorf("%w: unknown family %v", ErrInvalidKey, f)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s key: %v", ErrInvalidKey, f, err)
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return key, nil
}
