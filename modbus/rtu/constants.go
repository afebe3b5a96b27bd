// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

// RTU frame sizes: slave id, function code, up to 252 bytes of data, CRC.
const (
	MinSize = 4
	MaxSize = 256

	ExceptionSize = 5

	// requestHeaderSize covers the byte count of write multiple requests.
	requestHeaderSize = 7
)

// BroadcastID addresses every slave on the line; slaves never answer it.
const BroadcastID = 0
