// Copyright ©2019 The Gonum Authors. All rights reserved.
// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package guda runs CUDA-style kernels on the CPU.
//
// Accelerators are discovered through registered backends; the built-in
// "cpu" backend exposes the host as one device. A Context bound to a device
// owns its allocations, streams and worker goroutines. Kernels read and
// update device memory through ArrayView handles and the Atomic* intrinsics,
// which are safe to apply concurrently from every kernel thread.
package guda
