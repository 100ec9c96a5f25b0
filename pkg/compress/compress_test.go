package compress

import (
	"bytes"
	"strings"
	"testing"
)

func TestCompressor_ZSTD(t *testing.T) {
	compressor := NewCompressor(AlgorithmZSTD, LevelDefault)

	testData := []byte(`{"scan":{"id":"scan-1","score":62},"evidence":[{"id":"ev-1","kind":"tracker"}]}`)

	compressed, err := compressor.Compress(testData)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	t.Logf("Original size: %d, Compressed size: %d", len(testData), len(compressed))

	decompressed, err := compressor.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}

	if !bytes.Equal(testData, decompressed) {
		t.Errorf("Decompressed data doesn't match original")
	}
}

func TestCompressor_Gzip(t *testing.T) {
	compressor := NewCompressor(AlgorithmGzip, LevelDefault)

	testData := []byte(`{"scan":{"id":"scan-1","score":62},"evidence":[{"id":"ev-1","kind":"tracker"}]}`)

	compressed, err := compressor.Compress(testData)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	decompressed, err := compressor.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}

	if !bytes.Equal(testData, decompressed) {
		t.Errorf("Decompressed data doesn't match original")
	}
}

func TestCompressor_None(t *testing.T) {
	compressor := NewCompressor(AlgorithmNone, LevelDefault)

	testData := []byte(`{"evidence":[{"id":"ev-1"}]}`)

	compressed, err := compressor.Compress(testData)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	if !bytes.Equal(testData, compressed) {
		t.Errorf("AlgorithmNone should return original data")
	}
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		input   string
		want    Algorithm
		wantErr bool
	}{
		{"zstd", AlgorithmZSTD, false},
		{"gzip", AlgorithmGzip, false},
		{"x-gzip", AlgorithmGzip, false},
		{"none", AlgorithmNone, false},
		{"identity", AlgorithmNone, false},
		{"", AlgorithmNone, false},
		{"br", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAlgorithm(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAlgorithm(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseAlgorithm(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestCompressor_ContentEncoding(t *testing.T) {
	tests := []struct {
		algorithm Algorithm
		expected  string
	}{
		{AlgorithmZSTD, "zstd"},
		{AlgorithmGzip, "gzip"},
		{AlgorithmNone, ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.algorithm), func(t *testing.T) {
			c := NewCompressor(tt.algorithm, LevelDefault)
			if got := c.ContentEncoding(); got != tt.expected {
				t.Errorf("ContentEncoding() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestStorageAlgorithm(t *testing.T) {
	if got := StorageAlgorithm(MinCompressSize - 1); got != AlgorithmNone {
		t.Errorf("StorageAlgorithm(small) = %v, want none", got)
	}
	if got := StorageAlgorithm(MinCompressSize); got != AlgorithmZSTD {
		t.Errorf("StorageAlgorithm(threshold) = %v, want zstd", got)
	}
	if got := StorageAlgorithm(1 << 20); got != AlgorithmZSTD {
		t.Errorf("StorageAlgorithm(large) = %v, want zstd", got)
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	testData := []byte(strings.Repeat(`{"kind":"tracker","severity":4},`, 64))

	for _, algo := range []Algorithm{AlgorithmZSTD, AlgorithmGzip, AlgorithmNone} {
		t.Run(string(algo), func(t *testing.T) {
			packed, err := Encode(algo, testData)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			restored, err := Decode(algo, packed)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if !bytes.Equal(testData, restored) {
				t.Error("round-tripped data doesn't match original")
			}
		})
	}
}

func TestDecodeBody(t *testing.T) {
	testData := []byte(`{"status":"done","progress":100}`)

	t.Run("zstd encoded", func(t *testing.T) {
		packed, err := QuickCompress(testData)
		if err != nil {
			t.Fatalf("QuickCompress failed: %v", err)
		}
		got, err := DecodeBody("zstd", packed)
		if err != nil {
			t.Fatalf("DecodeBody failed: %v", err)
		}
		if !bytes.Equal(testData, got) {
			t.Error("decoded body doesn't match original")
		}
	})

	t.Run("gzip encoded", func(t *testing.T) {
		packed, err := DefaultGzip.Compress(testData)
		if err != nil {
			t.Fatalf("gzip compress failed: %v", err)
		}
		got, err := DecodeBody("gzip", packed)
		if err != nil {
			t.Fatalf("DecodeBody failed: %v", err)
		}
		if !bytes.Equal(testData, got) {
			t.Error("decoded body doesn't match original")
		}
	})

	t.Run("identity passthrough", func(t *testing.T) {
		got, err := DecodeBody("", testData)
		if err != nil {
			t.Fatalf("DecodeBody failed: %v", err)
		}
		if !bytes.Equal(testData, got) {
			t.Error("identity body should pass through untouched")
		}
	})

	t.Run("unknown encoding", func(t *testing.T) {
		if _, err := DecodeBody("br", testData); err == nil {
			t.Error("unknown encoding should fail")
		}
	})
}

func TestCompressor_CompressWithStats(t *testing.T) {
	compressor := NewCompressor(AlgorithmZSTD, LevelDefault)

	// Large repetitive data compresses well
	testData := []byte(strings.Repeat(`{"kind":"tracker","severity":4,"title":"Tracker detected"},`, 1000))

	compressed, stats, err := compressor.CompressWithStats(testData)
	if err != nil {
		t.Fatalf("CompressWithStats failed: %v", err)
	}

	if stats.OriginalSize != len(testData) {
		t.Errorf("OriginalSize = %d, want %d", stats.OriginalSize, len(testData))
	}

	if stats.CompressedSize != len(compressed) {
		t.Errorf("CompressedSize = %d, want %d", stats.CompressedSize, len(compressed))
	}

	if stats.Ratio <= 0 || stats.Ratio > 1 {
		t.Errorf("Ratio = %f, expected between 0 and 1", stats.Ratio)
	}

	if stats.Savings < 50 {
		t.Errorf("Expected >50%% savings on repetitive data, got %f%%", stats.Savings)
	}
}

func TestQuickCompress(t *testing.T) {
	testData := []byte(`{"test":"data"}`)

	compressed, err := QuickCompress(testData)
	if err != nil {
		t.Fatalf("QuickCompress failed: %v", err)
	}

	decompressed, err := QuickDecompress(compressed)
	if err != nil {
		t.Fatalf("QuickDecompress failed: %v", err)
	}

	if !bytes.Equal(testData, decompressed) {
		t.Error("Data mismatch")
	}
}

func BenchmarkCompressor_ZSTD(b *testing.B) {
	compressor := NewCompressor(AlgorithmZSTD, LevelDefault)

	var sb strings.Builder
	for i := 0; i < 1000; i++ {
		sb.WriteString(`{"id":"ev-`)
		sb.WriteString(string(rune('0' + (i % 10))))
		sb.WriteString(`","kind":"tracker","severity":4},`)
	}
	testData := []byte(sb.String())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := compressor.Compress(testData)
		if err != nil {
			b.Fatal(err)
		}
	}

	b.SetBytes(int64(len(testData)))
}

func BenchmarkCompressor_Gzip(b *testing.B) {
	compressor := NewCompressor(AlgorithmGzip, LevelDefault)

	var sb strings.Builder
	for i := 0; i < 1000; i++ {
		sb.WriteString(`{"id":"ev-`)
		sb.WriteString(string(rune('0' + (i % 10))))
		sb.WriteString(`","kind":"tracker","severity":4},`)
	}
	testData := []byte(sb.String())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := compressor.Compress(testData)
		if err != nil {
			b.Fatal(err)
		}
	}

	b.SetBytes(int64(len(testData)))
}
