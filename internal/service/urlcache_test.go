package service

import (
	"context"
	"testing"
	"time"
)

// putBlob кладёт объект в fakeBlobs и возвращает его location.
func putBlob(t *testing.T, b *fakeBlobs, name string) string {
	t.Helper()
	res, err := b.Put(context.Background(), content(name), putInput(name))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	return res.Location
}

// TestURLCache_HitMiss проверяет повторное использование ссылки.
func TestURLCache_HitMiss(t *testing.T) {
	blobs := newFakeBlobs()
	loc := putBlob(t, blobs, "a.txt")
	cache := NewURLCache(blobs, 10, time.Hour)

	first, err := cache.Get(context.Background(), loc)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := cache.Get(context.Background(), loc)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first != second {
		t.Errorf("ожидался cache hit: %+v != %+v", first, second)
	}
	if blobs.presigns != 1 {
		t.Errorf("PresignedURL вызван %d раз, ожидался 1", blobs.presigns)
	}
	if time.Until(first.ExpiresAt) < 59*time.Minute {
		t.Errorf("ExpiresAt = %v, ожидалось около часа от текущего момента", first.ExpiresAt)
	}
}

// TestURLCache_ExpiresAtHalfTTL — запись живёт половину срока ссылки.
func TestURLCache_ExpiresAtHalfTTL(t *testing.T) {
	blobs := newFakeBlobs()
	loc := putBlob(t, blobs, "b.txt")
	cache := NewURLCache(blobs, 10, 200*time.Millisecond)

	first, err := cache.Get(context.Background(), loc)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	second, err := cache.Get(context.Background(), loc)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first.URL == second.URL {
		t.Error("ссылка выдана из кэша после половины срока действия")
	}
}

func TestURLCache_Invalidate(t *testing.T) {
	blobs := newFakeBlobs()
	loc := putBlob(t, blobs, "c.txt")
	cache := NewURLCache(blobs, 10, time.Hour)

	if _, err := cache.Get(context.Background(), loc); err != nil {
		t.Fatalf("Get: %v", err)
	}
	cache.Invalidate(loc)
	if err := blobs.Delete(context.Background(), loc); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := cache.Get(context.Background(), loc); err == nil {
		t.Error("после Invalidate и удаления объекта ожидалась ошибка")
	}
}
